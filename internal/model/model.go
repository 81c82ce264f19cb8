// Package model holds the flywheel's process-wide domain entities: the
// things that live in the metadata store and flow across the bus. Kinds
// are referenced by id everywhere else (§9 "cyclic relations") so that
// points, clusters, suggestions and patterns never hold direct pointers
// to each other.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ValueType is the declared type of a Point's samples.
type ValueType string

const (
	ValueTypeFloat64 ValueType = "float64"
	ValueTypeInt32    ValueType = "int32"
	ValueTypeInt64    ValueType = "int64"
	ValueTypeBool     ValueType = "bool"
	ValueTypeString   ValueType = "string"
)

// Quality marks the provenance of a Sample's value, carried end-to-end.
type Quality string

const (
	QualityGood        Quality = "Good"
	QualityBad         Quality = "Bad"
	QualityUncertain   Quality = "Uncertain"
	QualitySubstituted Quality = "Substituted"
)

// DataSourceKind distinguishes the adapter variant backing a DataSource.
type DataSourceKind string

const (
	DataSourceKindPull DataSourceKind = "pull"
	DataSourceKindPush DataSourceKind = "push"
)

// DataSourceStatus reflects the last-observed health of a connection target.
type DataSourceStatus string

const (
	DataSourceHealthy  DataSourceStatus = "Healthy"
	DataSourceDegraded DataSourceStatus = "Degraded"
	DataSourceFailed   DataSourceStatus = "Failed"
)

// DataSource is a logical connection target for one or more adapters.
type DataSource struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	Name             string           `json:"name" db:"name"`
	Kind             DataSourceKind   `json:"kind" db:"kind"`
	ConnectionConfig []byte           `json:"connection_config" db:"connection_config"`
	Status           DataSourceStatus `json:"status" db:"status"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// Point is an addressable measurement. SequenceID is assigned exactly once,
// at registration, and is the key used inside the time-series store; it is
// never reused even after a soft delete.
type Point struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	SequenceID   int64      `json:"sequence_id" db:"sequence_id"`
	Name         string     `json:"name" db:"name"`
	Address      string     `json:"address" db:"address"`
	Unit         string     `json:"unit" db:"unit"`
	ValueType    ValueType  `json:"value_type" db:"value_type"`
	DataSourceID *uuid.UUID `json:"data_source_id,omitempty" db:"data_source_id"`
	Description  string     `json:"description,omitempty" db:"description"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

func (p *Point) Deprecated() bool {
	return p.DeletedAt != nil
}

// RawSample is one point reading as an adapter emits it, address-keyed
// because sequence_id resolution has not happened yet at this layer.
type RawSample struct {
	Address       string    `json:"address"`
	Name          string    `json:"name"`
	TimestampUTC  time.Time `json:"timestamp_utc"`
	Value         float64   `json:"value"`
	Quality       Quality   `json:"quality"`
	Units         string    `json:"units,omitempty"`
}

// RawSampleBatch is the opaque unit carried on datapoints.raw.
type RawSampleBatch struct {
	BatchID      uuid.UUID   `json:"batch_id"`
	DataSourceID uuid.UUID   `json:"data_source_id"`
	Points       []RawSample `json:"points"`
	ProducedAt   time.Time   `json:"produced_at"`
}

// Sample is a resolved, point-identified reading as stored in the
// time-series store and current-value cache.
type Sample struct {
	SequenceID   int64     `json:"sequence_id"`
	TimestampUTC time.Time `json:"timestamp_utc"`
	Value        Float     `json:"value"`
	Quality      Quality   `json:"quality"`
}

// PointBehavior is the aggregator's sliding-window summary of a point.
// Derived data; never stored durably beyond the latest entry in a cache.
type PointBehavior struct {
	PointID             uuid.UUID `json:"point_id"`
	SequenceID          int64     `json:"point_sequence_id"`
	SampleCount         int64     `json:"sample_count"`
	WindowStart         time.Time `json:"window_start"`
	WindowEnd           time.Time `json:"window_end"`
	Mean                float64   `json:"mean"`
	StdDev              float64   `json:"stddev"`
	Min                 float64   `json:"min"`
	Max                 float64   `json:"max"`
	MedianUpdateMs       float64   `json:"median_update_ms"`
	P95UpdateMs          float64   `json:"p95_update_ms"`
	ZeroCount            int64     `json:"zero_count"`
	GoodQualityRatio     float64   `json:"good_quality_ratio"`
	ChangeFrequency      float64   `json:"change_frequency"`
	UpdateRateHz         float64   `json:"update_rate_hz"`
	ProducedAt           time.Time `json:"produced_at"`
}

// PairCorrelation is always stored canonically: PointA < PointB, where
// the comparison is byte-wise on the UUIDs' canonical string form (Open
// Question 2).
type PairCorrelation struct {
	PointA      uuid.UUID  `json:"point_a" db:"point_id_1"`
	PointB      uuid.UUID  `json:"point_b" db:"point_id_2"`
	R           float64    `json:"r" db:"r"`
	SampleCount int64      `json:"sample_count" db:"sample_count"`
	WindowStart time.Time  `json:"window_start" db:"window_start"`
	WindowEnd   time.Time  `json:"window_end" db:"window_end"`
	LagMs       *int64     `json:"lag_ms,omitempty" db:"lag_ms"`
	Leading     *bool      `json:"leading_flag,omitempty" db:"leading_flag"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// CanonicalPair orders two point ids per the correlation_cache's unique
// constraint: (point_id_1 < point_id_2), compared byte-wise on the
// canonical (hyphenated, lowercase) string form.
func CanonicalPair(a, b uuid.UUID) (lo, hi uuid.UUID, swapped bool) {
	if a.String() <= b.String() {
		return a, b, false
	}
	return b, a, true
}

// ClusterAlgorithm tags which community-detection pass produced a Cluster.
type ClusterAlgorithm string

const (
	ClusterAlgoLouvain ClusterAlgorithm = "louvain"
	ClusterAlgoDBSCAN  ClusterAlgorithm = "dbscan"
)

// ClusterSource distinguishes an event-driven scan from a scheduled one,
// per the clusters.created wire shape.
type ClusterSource string

const (
	ClusterSourceContinuous ClusterSource = "continuous"
	ClusterSourceScheduled  ClusterSource = "scheduled"
)

// Cluster is a set of point ids bound by strong pairwise correlation.
type Cluster struct {
	ID               uuid.UUID        `json:"cluster_id" db:"id"`
	MemberIDs        []uuid.UUID      `json:"point_ids" db:"-"`
	AverageCohesion  float64          `json:"cohesion" db:"average_cohesion"`
	MinCorrelation   float64          `json:"min_r" db:"min_correlation"`
	MaxCorrelation   float64          `json:"max_r" db:"max_correlation"`
	Algorithm        ClusterAlgorithm `json:"algorithm" db:"algorithm"`
	Source           ClusterSource    `json:"source" db:"-"`
	DetectedAt       time.Time        `json:"detected_at" db:"detected_at"`
	ExpiresAt        time.Time        `json:"expires_at" db:"expires_at"`
}

// MemberKey is the deterministic de-duplication key for a cluster: the
// sorted, joined canonical member ids.
func (c *Cluster) MemberKey() string {
	return memberKey(c.MemberIDs)
}

// CorrelationsUpdatedEvent is the correlations.updated wire payload: every
// pair the Correlation Engine newly linked (or re-confirmed) in one pass.
type CorrelationsUpdatedEvent struct {
	Pairs      []PairCorrelation `json:"pairs"`
	ProducedAt time.Time         `json:"produced_at"`
}

// ClustersCreatedEvent is the clusters.created wire payload.
type ClustersCreatedEvent struct {
	Clusters   []Cluster `json:"clusters"`
	ProducedAt time.Time `json:"produced_at"`
}

// SuggestionsCreatedEvent is the suggestions.created wire payload: the
// Pattern Matcher's output for one cluster scan.
type SuggestionsCreatedEvent struct {
	Suggestions []Suggestion `json:"suggestions"`
	ProducedAt  time.Time    `json:"produced_at"`
}

// FeedbackDecision is the patterns.feedback wire payload: a human
// reviewer's decision on one pending Suggestion.
type FeedbackDecision struct {
	SuggestionID uuid.UUID      `json:"suggestion_id"`
	Action       FeedbackAction `json:"action"`
	UserID       string         `json:"user_id,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Bindings     []PatternBinding `json:"bindings,omitempty"`
}

// PatternUpdatedEvent is the patterns.updated wire payload, published
// after a Feedback Learner decision commits (§4.H).
type PatternUpdatedEvent struct {
	PatternID  uuid.UUID         `json:"pattern_id"`
	Kind       PatternUpdateKind `json:"kind"`
	Confidence float64           `json:"confidence"`
	ProducedAt time.Time         `json:"produced_at"`
}

// PatternRole is one named slot a Pattern expects a point to fill.
type PatternRole struct {
	ID               uuid.UUID `json:"id" db:"id"`
	PatternID        uuid.UUID `json:"pattern_id" db:"pattern_id"`
	Name             string    `json:"name" db:"role_name"`
	NamingRegexes    []string  `json:"naming_regexes" db:"-"`
	// Requirements are optional boolean expr-lang expressions evaluated
	// against a (point, behavior) environment; a point failing any one is
	// never assignable to this role, regardless of score.
	Requirements     []string  `json:"requirements,omitempty" db:"-"`
	TypicalUnit      string    `json:"typical_unit,omitempty" db:"typical_unit"`
	TypicalMin       *float64  `json:"typical_min,omitempty" db:"typical_min"`
	TypicalMax       *float64  `json:"typical_max,omitempty" db:"typical_max"`
	TypicalRateMs    *float64  `json:"typical_update_rate_ms,omitempty" db:"typical_rate_ms"`
	Required         bool      `json:"required" db:"required"`
	SortOrder        int       `json:"sort_order" db:"sort_order"`
}

// Pattern is a named archetype with an ordered list of roles.
type Pattern struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	Name       string        `json:"name" db:"name"`
	Confidence float64       `json:"confidence" db:"confidence"`
	Active     bool          `json:"active" db:"active"`
	Learned    bool          `json:"learned" db:"learned"`
	Roles      []PatternRole `json:"roles" db:"-"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
}

// SuggestionStatus tracks the one-way lifecycle of a Suggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApplied  SuggestionStatus = "applied"
	SuggestionRejected SuggestionStatus = "rejected"
	SuggestionDeferred SuggestionStatus = "deferred"
	SuggestionExpired  SuggestionStatus = "expired"
)

// RoleAssignment binds one cluster member point to one pattern role.
type RoleAssignment struct {
	PointID uuid.UUID `json:"point_id"`
	RoleID  uuid.UUID `json:"role_id"`
	RoleName string   `json:"role_name"`
	Score   float64   `json:"score"`
}

// Suggestion proposes binding a cluster to a pattern.
type Suggestion struct {
	ID               uuid.UUID         `json:"suggestion_id" db:"id"`
	ClusterID        uuid.UUID         `json:"cluster_id" db:"cluster_id"`
	PatternID        uuid.UUID         `json:"pattern_id" db:"pattern_id"`
	Overall          float64           `json:"overall" db:"overall"`
	NamingScore      float64           `json:"naming" db:"naming_score"`
	CorrelationScore float64           `json:"correlation" db:"correlation_score"`
	RangeScore       float64           `json:"range" db:"range_score"`
	RateScore        float64           `json:"rate" db:"rate_score"`
	MatchedPoints    []uuid.UUID       `json:"-" db:"-"`
	RoleAssignments  []RoleAssignment  `json:"-" db:"-"`
	Evidence         []string          `json:"evidence" db:"-"`
	Status           SuggestionStatus  `json:"-" db:"status"`
	RejectionReason  string            `json:"-" db:"rejection_reason"`
	CreatedAt        time.Time         `json:"-" db:"created_at"`
	UpdatedAt        time.Time         `json:"-" db:"updated_at"`
	ExpiresAt        *time.Time        `json:"-" db:"expires_at"`
}

// PatternBinding is a confirmed (point, pattern, role) link.
type PatternBinding struct {
	PointID   uuid.UUID `json:"point_id" db:"point_id"`
	PatternID uuid.UUID `json:"pattern_id" db:"pattern_id"`
	RoleID    uuid.UUID `json:"role_id" db:"role_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FeedbackAction is a human decision on a Suggestion.
type FeedbackAction string

const (
	FeedbackApproved FeedbackAction = "Approved"
	FeedbackRejected FeedbackAction = "Rejected"
	FeedbackDeferred FeedbackAction = "Deferred"
)

// FeedbackRecord is append-only; it is never mutated after insert.
type FeedbackRecord struct {
	ID                  uuid.UUID      `json:"id" db:"id"`
	SuggestionID         uuid.UUID      `json:"suggestion_id" db:"suggestion_id"`
	PatternID            uuid.UUID      `json:"pattern_id" db:"pattern_id"`
	Action               FeedbackAction `json:"action" db:"action"`
	UserID               string         `json:"user_id,omitempty" db:"user_id"`
	Reason               string         `json:"reason,omitempty" db:"reason"`
	At                   time.Time      `json:"at" db:"at"`
}

// PatternUpdateKind labels a patterns.updated event.
type PatternUpdateKind string

const (
	PatternUpdateIncreased PatternUpdateKind = "IncreasedConfidence"
	PatternUpdateDecreased PatternUpdateKind = "DecreasedConfidence"
)
