// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parquet

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/google/uuid"
)

func makeTestCluster() *model.Cluster {
	return &model.Cluster{
		ID:              uuid.New(),
		MemberIDs:       []uuid.UUID{uuid.New(), uuid.New()},
		AverageCohesion: 0.82,
		MinCorrelation:  0.71,
		MaxCorrelation:  0.95,
		Algorithm:       model.ClusterAlgoLouvain,
		Source:          model.ClusterSourceContinuous,
		DetectedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:       time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC),
	}
}

func makeTestSuggestion(clusterID uuid.UUID) *model.Suggestion {
	return &model.Suggestion{
		ID:               uuid.New(),
		ClusterID:        clusterID,
		PatternID:        uuid.New(),
		Overall:          0.83,
		NamingScore:      0.9,
		CorrelationScore: 0.8,
		RangeScore:       0.75,
		RateScore:        0.7,
		Evidence:         []string{"supply.temp correlates with return.temp at r=0.91"},
		Status:           model.SuggestionApplied,
		CreatedAt:        time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
		UpdatedAt:        time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC),
	}
}

func TestClusterToArchiveRowsWithSuggestion(t *testing.T) {
	cluster := makeTestCluster()
	suggestion := makeTestSuggestion(cluster.ID)
	patternNames := map[string]string{suggestion.PatternID.String(): "ahu-supply-return"}
	feedback := map[string][]*model.FeedbackRecord{
		suggestion.ID.String(): {
			{ID: uuid.New(), SuggestionID: suggestion.ID, PatternID: suggestion.PatternID, Action: model.FeedbackApproved, At: suggestion.UpdatedAt},
		},
	}
	archivedAt := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)

	rows, err := ClusterToArchiveRows(cluster, []*model.Suggestion{suggestion}, patternNames, feedback, archivedAt)
	if err != nil {
		t.Fatalf("ClusterToArchiveRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}

	row := rows[0]
	if row.ClusterID != cluster.ID.String() {
		t.Errorf("ClusterID = %q, want %q", row.ClusterID, cluster.ID.String())
	}
	if row.Algorithm != string(model.ClusterAlgoLouvain) {
		t.Errorf("Algorithm = %q, want %q", row.Algorithm, model.ClusterAlgoLouvain)
	}
	if row.SuggestionID != suggestion.ID.String() {
		t.Errorf("SuggestionID = %q, want %q", row.SuggestionID, suggestion.ID.String())
	}
	if row.PatternName != "ahu-supply-return" {
		t.Errorf("PatternName = %q, want %q", row.PatternName, "ahu-supply-return")
	}
	if row.Status != string(model.SuggestionApplied) {
		t.Errorf("Status = %q, want %q", row.Status, model.SuggestionApplied)
	}
	if row.ArchivedAt != archivedAt.UnixMilli() {
		t.Errorf("ArchivedAt = %d, want %d", row.ArchivedAt, archivedAt.UnixMilli())
	}

	var memberIDs []uuid.UUID
	if err := json.Unmarshal(row.MemberIDsJSON, &memberIDs); err != nil {
		t.Fatalf("unmarshal member ids: %v", err)
	}
	if len(memberIDs) != 2 {
		t.Errorf("len(memberIDs) = %d, want 2", len(memberIDs))
	}

	records, err := ArchiveRowToFeedback(row)
	if err != nil {
		t.Fatalf("ArchiveRowToFeedback: %v", err)
	}
	if len(records) != 1 || records[0].Action != model.FeedbackApproved {
		t.Errorf("records = %+v, want one Approved record", records)
	}
}

func TestClusterToArchiveRowsNoSuggestion(t *testing.T) {
	cluster := makeTestCluster()

	rows, err := ClusterToArchiveRows(cluster, nil, nil, nil, time.Now())
	if err != nil {
		t.Fatalf("ClusterToArchiveRows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0].SuggestionID != "" {
		t.Errorf("SuggestionID = %q, want empty", rows[0].SuggestionID)
	}
	if rows[0].FeedbackJSON != nil {
		t.Errorf("FeedbackJSON = %v, want nil", rows[0].FeedbackJSON)
	}
}

func TestClusterToArchiveRowsMultipleSuggestions(t *testing.T) {
	cluster := makeTestCluster()
	a := makeTestSuggestion(cluster.ID)
	b := makeTestSuggestion(cluster.ID)
	b.Status = model.SuggestionRejected
	b.RejectionReason = "wrong role assignment"

	rows, err := ClusterToArchiveRows(cluster, []*model.Suggestion{a, b}, nil, nil, time.Now())
	if err != nil {
		t.Fatalf("ClusterToArchiveRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[1].RejectionReason != "wrong role assignment" {
		t.Errorf("RejectionReason = %q, want %q", rows[1].RejectionReason, "wrong role assignment")
	}
	if rows[0].ClusterID != rows[1].ClusterID {
		t.Errorf("rows disagree on denormalized cluster id: %q vs %q", rows[0].ClusterID, rows[1].ClusterID)
	}
}

func TestRoundTripThroughParquetFile(t *testing.T) {
	cluster := makeTestCluster()
	suggestion := makeTestSuggestion(cluster.ID)

	rows, err := ClusterToArchiveRows(cluster, []*model.Suggestion{suggestion}, nil, nil, time.Now())
	if err != nil {
		t.Fatalf("ClusterToArchiveRows: %v", err)
	}

	data, err := writeParquetBytes(rows)
	if err != nil {
		t.Fatalf("writeParquetBytes: %v", err)
	}

	got, err := ReadArchiveFile(data)
	if err != nil {
		t.Fatalf("ReadArchiveFile: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].ClusterID != cluster.ID.String() {
		t.Errorf("ClusterID = %q, want %q", got[0].ClusterID, cluster.ID.String())
	}
	if got[0].SuggestionID != suggestion.ID.String() {
		t.Errorf("SuggestionID = %q, want %q", got[0].SuggestionID, suggestion.ID.String())
	}
}
