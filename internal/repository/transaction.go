// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"fmt"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ApprovalTransaction bundles the Feedback Learner's multi-step suggestion
// resolution into one atomic unit (§4.H steps 2-5): update pattern
// confidence, append the feedback record, mark the suggestion terminal,
// and upsert point bindings for an approval. Either every step lands or
// none do.
type ApprovalTransaction struct {
	tx     *sqlx.Tx
	driver string
}

// BeginApproval opens the transaction used by ApproveSuggestion/
// RejectSuggestion/DeferSuggestion.
func (r *Repository) BeginApproval(driver string) (*ApprovalTransaction, error) {
	tx, err := r.DB.Beginx()
	if err != nil {
		log.Warn("error beginning approval transaction")
		return nil, fmt.Errorf("begin approval transaction: %w", err)
	}
	return &ApprovalTransaction{tx: tx, driver: driver}, nil
}

// Commit finalizes the transaction.
func (t *ApprovalTransaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		log.Warn("error committing approval transaction")
		return fmt.Errorf("commit approval transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Calling it after Commit is a no-op, as
// with any *sqlx.Tx.
func (t *ApprovalTransaction) Rollback() error {
	return t.tx.Rollback()
}

// adjustPatternConfidence nudges a pattern's confidence by delta, clamped
// to [floor, 1.0], and returns the resulting value.
func (t *ApprovalTransaction) adjustPatternConfidence(patternID uuid.UUID, delta, floor float64) (float64, error) {
	var confidence float64
	if err := t.tx.Get(&confidence, `SELECT confidence FROM patterns WHERE id = ?`, patternID.String()); err != nil {
		return 0, fmt.Errorf("load pattern confidence: %w", err)
	}

	confidence += delta
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < floor {
		confidence = floor
	}

	now := time.Now().UTC()
	if _, err := t.tx.Exec(`UPDATE patterns SET confidence = ?, updated_at = ? WHERE id = ?`,
		confidence, now, patternID.String()); err != nil {
		return 0, fmt.Errorf("update pattern confidence: %w", err)
	}
	return confidence, nil
}

func (t *ApprovalTransaction) markSuggestion(suggestionID uuid.UUID, status model.SuggestionStatus, reason string) error {
	_, err := t.tx.Exec(`UPDATE pattern_suggestions SET status = ?, rejection_reason = ?, updated_at = ? WHERE id = ?`,
		status, reason, time.Now().UTC(), suggestionID.String())
	if err != nil {
		return fmt.Errorf("mark suggestion %s: %w", suggestionID, err)
	}
	return nil
}

func (t *ApprovalTransaction) appendFeedback(f *model.FeedbackRecord) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	_, err := t.tx.Exec(
		`INSERT INTO pattern_feedback_log (id, suggestion_id, pattern_id, action, user_id, reason, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID.String(), f.SuggestionID.String(), f.PatternID.String(), f.Action, f.UserID, f.Reason, f.At,
	)
	if err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

func (t *ApprovalTransaction) upsertBinding(b *model.PatternBinding) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	var q string
	switch t.driver {
	case "mysql":
		q = `INSERT INTO point_pattern_bindings (point_id, pattern_id, role_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE role_id = VALUES(role_id), updated_at = VALUES(updated_at)`
	default:
		q = `INSERT INTO point_pattern_bindings (point_id, pattern_id, role_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(point_id, pattern_id) DO UPDATE SET role_id = excluded.role_id, updated_at = excluded.updated_at`
	}
	_, err := t.tx.Exec(q, b.PointID.String(), b.PatternID.String(), b.RoleID.String(), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

// ApproveSuggestion raises the pattern's confidence by delta, appends an
// Approved FeedbackRecord, marks the suggestion applied, and binds every
// matched point into its assigned role (§4.H steps 2, 4, 5).
func (t *ApprovalTransaction) ApproveSuggestion(s *model.Suggestion, delta, floor float64, userID string, bindings []model.PatternBinding) error {
	if _, err := t.adjustPatternConfidence(s.PatternID, delta, floor); err != nil {
		return err
	}
	if err := t.appendFeedback(&model.FeedbackRecord{
		SuggestionID: s.ID,
		PatternID:    s.PatternID,
		Action:       model.FeedbackApproved,
		UserID:       userID,
	}); err != nil {
		return err
	}
	if err := t.markSuggestion(s.ID, model.SuggestionApplied, ""); err != nil {
		return err
	}
	for i := range bindings {
		if err := t.upsertBinding(&bindings[i]); err != nil {
			return err
		}
	}
	return nil
}

// RejectSuggestion lowers the pattern's confidence by delta, appends a
// Rejected FeedbackRecord carrying reason, and marks the suggestion
// rejected. No bindings are created (§4.H step 3).
func (t *ApprovalTransaction) RejectSuggestion(s *model.Suggestion, delta, floor float64, userID, reason string) error {
	if _, err := t.adjustPatternConfidence(s.PatternID, -delta, floor); err != nil {
		return err
	}
	if err := t.appendFeedback(&model.FeedbackRecord{
		SuggestionID: s.ID,
		PatternID:    s.PatternID,
		Action:       model.FeedbackRejected,
		UserID:       userID,
		Reason:       reason,
	}); err != nil {
		return err
	}
	return t.markSuggestion(s.ID, model.SuggestionRejected, reason)
}

// DeferSuggestion appends a Deferred FeedbackRecord and marks the
// suggestion deferred, without touching pattern confidence. Deferred is a
// terminal status: the feedback learner accepts decisions only on pending
// suggestions.
func (t *ApprovalTransaction) DeferSuggestion(s *model.Suggestion, userID, reason string) error {
	if err := t.appendFeedback(&model.FeedbackRecord{
		SuggestionID: s.ID,
		PatternID:    s.PatternID,
		Action:       model.FeedbackDeferred,
		UserID:       userID,
		Reason:       reason,
	}); err != nil {
		return err
	}
	return t.markSuggestion(s.ID, model.SuggestionDeferred, reason)
}
