// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parquet

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
)

// ClusterToArchiveRows flattens an expired Cluster, the Suggestions ever
// raised against it and each Suggestion's feedback history into
// ArchiveRows: one per Suggestion, or a single row with the suggestion
// columns left empty when the cluster never produced one. patternNames
// and feedback are keyed by the corresponding id's string form.
func ClusterToArchiveRows(c *model.Cluster, suggestions []*model.Suggestion, patternNames map[string]string, feedback map[string][]*model.FeedbackRecord, archivedAt time.Time) ([]ArchiveRow, error) {
	memberIDsJSON, err := json.Marshal(c.MemberIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal member ids: %w", err)
	}

	base := ArchiveRow{
		ClusterID:        c.ID.String(),
		Algorithm:        string(c.Algorithm),
		Source:           string(c.Source),
		MemberIDsJSON:    memberIDsJSON,
		AverageCohesion:  c.AverageCohesion,
		MinCorrelation:   c.MinCorrelation,
		MaxCorrelation:   c.MaxCorrelation,
		DetectedAt:       c.DetectedAt.UTC().UnixMilli(),
		ClusterExpiresAt: c.ExpiresAt.UTC().UnixMilli(),
		ArchivedAt:       archivedAt.UTC().UnixMilli(),
	}

	if len(suggestions) == 0 {
		return []ArchiveRow{base}, nil
	}

	rows := make([]ArchiveRow, 0, len(suggestions))
	for _, s := range suggestions {
		row := base

		evidenceJSON, err := json.Marshal(s.Evidence)
		if err != nil {
			return nil, fmt.Errorf("marshal evidence for suggestion %s: %w", s.ID, err)
		}

		row.SuggestionID = s.ID.String()
		row.PatternID = s.PatternID.String()
		row.PatternName = patternNames[s.PatternID.String()]
		row.Overall = s.Overall
		row.NamingScore = s.NamingScore
		row.CorrelationScore = s.CorrelationScore
		row.RangeScore = s.RangeScore
		row.RateScore = s.RateScore
		row.EvidenceJSON = evidenceJSON
		row.Status = string(s.Status)
		row.RejectionReason = s.RejectionReason
		row.SuggestionCreatedAt = s.CreatedAt.UTC().UnixMilli()
		row.SuggestionUpdatedAt = s.UpdatedAt.UTC().UnixMilli()
		if s.ExpiresAt != nil {
			row.SuggestionExpiresAt = s.ExpiresAt.UTC().UnixMilli()
		}

		if fb := feedback[s.ID.String()]; len(fb) > 0 {
			feedbackJSON, err := json.Marshal(fb)
			if err != nil {
				return nil, fmt.Errorf("marshal feedback for suggestion %s: %w", s.ID, err)
			}
			row.FeedbackJSON = feedbackJSON
		}

		rows = append(rows, row)
	}
	return rows, nil
}

// ArchiveRowToFeedback unmarshals a row's embedded feedback history, e.g.
// for an audit tool reading an archived cluster back out of cold storage.
func ArchiveRowToFeedback(row ArchiveRow) ([]*model.FeedbackRecord, error) {
	if len(row.FeedbackJSON) == 0 {
		return nil, nil
	}
	var records []*model.FeedbackRecord
	if err := json.Unmarshal(row.FeedbackJSON, &records); err != nil {
		return nil, fmt.Errorf("unmarshal feedback: %w", err)
	}
	return records, nil
}
