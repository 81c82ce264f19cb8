package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var suggestionColumns = []string{
	"id", "cluster_id", "pattern_id", "overall", "naming_score", "correlation_score",
	"range_score", "rate_score", "matched_points", "role_assignments", "evidence",
	"status", "rejection_reason", "created_at", "updated_at", "expires_at",
}

func scanSuggestion(row interface{ Scan(...any) error }) (*model.Suggestion, error) {
	s := &model.Suggestion{}
	var matchedJSON, rolesJSON, evidenceJSON string
	var rejectionReason sql.NullString
	var expiresAt sql.NullTime
	if err := row.Scan(
		&s.ID, &s.ClusterID, &s.PatternID, &s.Overall, &s.NamingScore, &s.CorrelationScore,
		&s.RangeScore, &s.RateScore, &matchedJSON, &rolesJSON, &evidenceJSON,
		&s.Status, &rejectionReason, &s.CreatedAt, &s.UpdatedAt, &expiresAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(matchedJSON), &s.MatchedPoints); err != nil {
		return nil, fmt.Errorf("unmarshal matched_points: %w", err)
	}
	if err := json.Unmarshal([]byte(rolesJSON), &s.RoleAssignments); err != nil {
		return nil, fmt.Errorf("unmarshal role_assignments: %w", err)
	}
	if err := json.Unmarshal([]byte(evidenceJSON), &s.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshal evidence: %w", err)
	}
	s.RejectionReason = rejectionReason.String
	if expiresAt.Valid {
		t := expiresAt.Time
		s.ExpiresAt = &t
	}
	return s, nil
}

// CreateSuggestion inserts a pending Suggestion produced by the Pattern
// Matcher (§4.G).
func (r *Repository) CreateSuggestion(s *model.Suggestion) (*model.Suggestion, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	if s.Status == "" {
		s.Status = model.SuggestionPending
	}

	matchedJSON, err := json.Marshal(s.MatchedPoints)
	if err != nil {
		return nil, fmt.Errorf("marshal matched_points: %w", err)
	}
	rolesJSON, err := json.Marshal(s.RoleAssignments)
	if err != nil {
		return nil, fmt.Errorf("marshal role_assignments: %w", err)
	}
	evidenceJSON, err := json.Marshal(s.Evidence)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence: %w", err)
	}

	_, err = r.DB.Exec(
		`INSERT INTO pattern_suggestions (
			id, cluster_id, pattern_id, overall, naming_score, correlation_score,
			range_score, rate_score, matched_points, role_assignments, evidence,
			status, rejection_reason, created_at, updated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.ClusterID.String(), s.PatternID.String(), s.Overall, s.NamingScore, s.CorrelationScore,
		s.RangeScore, s.RateScore, string(matchedJSON), string(rolesJSON), string(evidenceJSON),
		s.Status, s.RejectionReason, s.CreatedAt, s.UpdatedAt, s.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert suggestion: %w", err)
	}
	return s, nil
}

func (r *Repository) SuggestionByID(id uuid.UUID) (*model.Suggestion, error) {
	row := sq.Select(suggestionColumns...).From("pattern_suggestions").
		Where(sq.Eq{"id": id.String()}).RunWith(r.stmtCache).QueryRow()
	s, err := scanSuggestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("suggestion by id %s: %w", id, err)
	}
	return s, nil
}

// SuggestionsByCluster loads every Suggestion ever produced for a cluster,
// for the archiver to attach to the cluster's archive row before it is
// purged.
func (r *Repository) SuggestionsByCluster(clusterID uuid.UUID) ([]*model.Suggestion, error) {
	rows, err := sq.Select(suggestionColumns...).From("pattern_suggestions").
		Where(sq.Eq{"cluster_id": clusterID.String()}).RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("suggestions for cluster %s: %w", clusterID, err)
	}
	defer rows.Close()

	var out []*model.Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ExpirePendingSuggestions marks pending suggestions older than olderThan
// as expired, part of the orchestrator's periodic cache purges (§4.I).
func (r *Repository) ExpirePendingSuggestions(olderThan time.Time) (int64, error) {
	res, err := r.DB.Exec(
		`UPDATE pattern_suggestions SET status = ?, updated_at = ? WHERE status = ? AND created_at < ?`,
		model.SuggestionExpired, time.Now().UTC(), model.SuggestionPending, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("expire suggestions: %w", err)
	}
	return res.RowsAffected()
}
