// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package parquet

// ArchiveRow is one archived (Cluster, Suggestion) pairing, flattened the
// way the teacher's ParquetJobRow flattens a job and its metric data into
// a single row. A cluster that expired without ever producing a
// suggestion above the matching threshold is archived with every
// suggestion column left at its zero value.
type ArchiveRow struct {
	ClusterID        string  `parquet:"cluster_id"`
	Algorithm        string  `parquet:"algorithm"`
	Source           string  `parquet:"source,optional"`
	MemberIDsJSON    []byte  `parquet:"member_ids_json"`
	AverageCohesion  float64 `parquet:"average_cohesion"`
	MinCorrelation   float64 `parquet:"min_correlation"`
	MaxCorrelation   float64 `parquet:"max_correlation"`
	DetectedAt       int64   `parquet:"detected_at"`
	ClusterExpiresAt int64   `parquet:"cluster_expires_at"`

	SuggestionID        string  `parquet:"suggestion_id,optional"`
	PatternID           string  `parquet:"pattern_id,optional"`
	PatternName         string  `parquet:"pattern_name,optional"`
	Overall             float64 `parquet:"overall,optional"`
	NamingScore         float64 `parquet:"naming_score,optional"`
	CorrelationScore    float64 `parquet:"correlation_score,optional"`
	RangeScore          float64 `parquet:"range_score,optional"`
	RateScore           float64 `parquet:"rate_score,optional"`
	EvidenceJSON        []byte  `parquet:"evidence_json,optional"`
	Status              string  `parquet:"status,optional"`
	RejectionReason     string  `parquet:"rejection_reason,optional"`
	SuggestionCreatedAt int64   `parquet:"suggestion_created_at,optional"`
	SuggestionUpdatedAt int64   `parquet:"suggestion_updated_at,optional"`
	SuggestionExpiresAt int64   `parquet:"suggestion_expires_at,optional"`

	// FeedbackJSON holds the suggestion's full []model.FeedbackRecord
	// history, marshaled to JSON; feedback is append-only elsewhere, so
	// this is always the complete history at archival time.
	FeedbackJSON []byte `parquet:"feedback_json,optional"`

	ArchivedAt int64 `parquet:"archived_at"`
}
