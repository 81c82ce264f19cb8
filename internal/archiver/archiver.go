// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package archiver

import (
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/pkg/archive"
	"github.com/fieldflywheel/ingest-flywheel/pkg/archive/parquet"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	"github.com/google/uuid"
)

// ArchiverRepository is the subset of repository methods the archiver
// needs to move an expired cluster to cold storage and remove it.
type ArchiverRepository interface {
	ExpiredClusters() ([]*model.Cluster, error)
	SuggestionsByCluster(clusterID uuid.UUID) ([]*model.Suggestion, error)
	FeedbackForSuggestion(suggestionID uuid.UUID) ([]*model.FeedbackRecord, error)
	PatternByID(id uuid.UUID) (*model.Pattern, error)
	DeleteCluster(id uuid.UUID) error
}

// ArchiveExpiredClusters writes every expired cluster, the suggestions it
// ever produced and their feedback history to the configured archive
// backend, deleting each cluster from the relational store only once its
// archive row has been durably written. A failure archiving or deleting
// one cluster is logged and does not block the rest of the sweep.
func ArchiveExpiredClusters(repo ArchiverRepository) (int64, error) {
	backend := archive.GetHandle()
	if backend == nil {
		log.Warnf("archiver: no archive backend configured, skipping cache purge")
		return 0, nil
	}

	clusters, err := repo.ExpiredClusters()
	if err != nil {
		return 0, err
	}

	var archived int64
	for _, c := range clusters {
		if err := archiveOne(repo, backend, c); err != nil {
			log.Errorf("archiver: cluster %s: %v", c.ID, err)
			continue
		}
		archived++
	}
	return archived, nil
}

func archiveOne(repo ArchiverRepository, backend archive.ArchiveBackend, c *model.Cluster) error {
	suggestions, err := repo.SuggestionsByCluster(c.ID)
	if err != nil {
		return err
	}

	patternNames := make(map[string]string, len(suggestions))
	feedback := make(map[string][]*model.FeedbackRecord, len(suggestions))
	for _, s := range suggestions {
		if p, err := repo.PatternByID(s.PatternID); err == nil && p != nil {
			patternNames[s.PatternID.String()] = p.Name
		}
		fb, err := repo.FeedbackForSuggestion(s.ID)
		if err != nil {
			return err
		}
		if len(fb) > 0 {
			feedback[s.ID.String()] = fb
		}
	}

	rows, err := parquet.ClusterToArchiveRows(c, suggestions, patternNames, feedback, time.Now())
	if err != nil {
		return err
	}

	if err := backend.WriteRows(rows); err != nil {
		return err
	}

	if err := repo.DeleteCluster(c.ID); err != nil {
		return err
	}

	log.Debugf("archiver: archived cluster %s with %d suggestion row(s)", c.ID, len(rows))
	return nil
}
