// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package archiver

import (
	"errors"
	"testing"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/pkg/archive"
	"github.com/fieldflywheel/ingest-flywheel/pkg/archive/parquet"
	"github.com/google/uuid"
)

var errBoom = errors.New("boom")

type fakeArchiverRepo struct {
	clusters    []*model.Cluster
	suggestions map[uuid.UUID][]*model.Suggestion
	feedback    map[uuid.UUID][]*model.FeedbackRecord
	patterns    map[uuid.UUID]*model.Pattern
	deleted     []uuid.UUID
	deleteErr   error
}

func (f *fakeArchiverRepo) ExpiredClusters() ([]*model.Cluster, error) { return f.clusters, nil }

func (f *fakeArchiverRepo) SuggestionsByCluster(clusterID uuid.UUID) ([]*model.Suggestion, error) {
	return f.suggestions[clusterID], nil
}

func (f *fakeArchiverRepo) FeedbackForSuggestion(suggestionID uuid.UUID) ([]*model.FeedbackRecord, error) {
	return f.feedback[suggestionID], nil
}

func (f *fakeArchiverRepo) PatternByID(id uuid.UUID) (*model.Pattern, error) {
	return f.patterns[id], nil
}

func (f *fakeArchiverRepo) DeleteCluster(id uuid.UUID) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeBackend struct {
	written [][]parquet.ArchiveRow
	writeErr error
}

func (b *fakeBackend) WriteRows(rows []parquet.ArchiveRow) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	b.written = append(b.written, rows)
	return nil
}

func (b *fakeBackend) Close() error { return nil }

func makeArchiverTestCluster() *model.Cluster {
	return &model.Cluster{
		ID:         uuid.New(),
		MemberIDs:  []uuid.UUID{uuid.New()},
		Algorithm:  model.ClusterAlgoLouvain,
		Source:     model.ClusterSourceContinuous,
		DetectedAt: time.Now().Add(-8 * 24 * time.Hour),
		ExpiresAt:  time.Now().Add(-1 * time.Hour),
	}
}

func TestArchiveOneWithSuggestion(t *testing.T) {
	c := makeArchiverTestCluster()
	suggestion := &model.Suggestion{ID: uuid.New(), ClusterID: c.ID, PatternID: uuid.New(), Status: model.SuggestionApplied, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	pattern := &model.Pattern{ID: suggestion.PatternID, Name: "ahu-pair"}
	record := &model.FeedbackRecord{ID: uuid.New(), SuggestionID: suggestion.ID, PatternID: suggestion.PatternID, Action: model.FeedbackApproved, At: time.Now()}

	repo := &fakeArchiverRepo{
		clusters:    []*model.Cluster{c},
		suggestions: map[uuid.UUID][]*model.Suggestion{c.ID: {suggestion}},
		feedback:    map[uuid.UUID][]*model.FeedbackRecord{suggestion.ID: {record}},
		patterns:    map[uuid.UUID]*model.Pattern{suggestion.PatternID: pattern},
	}
	backend := &fakeBackend{}

	if err := archiveOne(repo, backend, c); err != nil {
		t.Fatalf("archiveOne: %v", err)
	}

	if len(backend.written) != 1 || len(backend.written[0]) != 1 {
		t.Fatalf("written = %+v, want one batch of one row", backend.written)
	}
	row := backend.written[0][0]
	if row.PatternName != "ahu-pair" {
		t.Errorf("PatternName = %q, want %q", row.PatternName, "ahu-pair")
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != c.ID {
		t.Errorf("deleted = %+v, want [%s]", repo.deleted, c.ID)
	}
}

func TestArchiveOneDoesNotDeleteOnWriteFailure(t *testing.T) {
	c := makeArchiverTestCluster()
	repo := &fakeArchiverRepo{clusters: []*model.Cluster{c}}
	backend := &fakeBackend{writeErr: errBoom}

	if err := archiveOne(repo, backend, c); err == nil {
		t.Fatal("expected error from failed write")
	}
	if len(repo.deleted) != 0 {
		t.Errorf("deleted = %+v, want none after a failed write", repo.deleted)
	}
}

func TestArchiveExpiredClustersContinuesPastFailures(t *testing.T) {
	good := makeArchiverTestCluster()
	bad := makeArchiverTestCluster()

	repo := &fakeArchiverRepo{clusters: []*model.Cluster{bad, good}}
	wrapped := &selectiveDeleteRepo{fakeArchiverRepo: repo, failFor: bad.ID}

	if err := archive.Init([]byte(`{"kind":"file","path":"` + t.TempDir() + `"}`)); err != nil {
		t.Fatalf("archive.Init: %v", err)
	}

	n, err := ArchiveExpiredClusters(wrapped)
	if err != nil {
		t.Fatalf("ArchiveExpiredClusters: %v", err)
	}
	if n != 1 {
		t.Errorf("archived = %d, want 1", n)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != good.ID {
		t.Errorf("deleted = %+v, want [%s]", repo.deleted, good.ID)
	}
}

type selectiveDeleteRepo struct {
	*fakeArchiverRepo
	failFor uuid.UUID
}

func (s *selectiveDeleteRepo) DeleteCluster(id uuid.UUID) error {
	if id == s.failFor {
		return errBoom
	}
	return s.fakeArchiverRepo.DeleteCluster(id)
}
