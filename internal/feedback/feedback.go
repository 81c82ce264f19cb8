// Package feedback is the Feedback Learner (§4.H): applies a human
// reviewer's decision on a pending Suggestion, nudges the owning
// pattern's confidence, and publishes patterns.updated so the next
// Pattern Matcher pass sees the new weight.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/bus"
	"github.com/fieldflywheel/ingest-flywheel/internal/errkind"
	"github.com/fieldflywheel/ingest-flywheel/internal/metrics"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	"github.com/google/uuid"
)

// SuggestionStore is the subset of *repository.Repository the learner
// needs to resolve a FeedbackDecision's target.
type SuggestionStore interface {
	SuggestionByID(id uuid.UUID) (*model.Suggestion, error)
	PatternByID(id uuid.UUID) (*model.Pattern, error)
}

// ApprovalTransaction is the subset of *repository.ApprovalTransaction
// the learner drives, named here so tests can fake it without a database.
type ApprovalTransaction interface {
	ApproveSuggestion(s *model.Suggestion, delta, floor float64, userID string, bindings []model.PatternBinding) error
	RejectSuggestion(s *model.Suggestion, delta, floor float64, userID, reason string) error
	DeferSuggestion(s *model.Suggestion, userID, reason string) error
	Commit() error
	Rollback() error
}

// Config mirrors config.FeedbackConfig.
type Config struct {
	DeltaUp         float64
	DeltaDown       float64
	ConfidenceFloor float64
}

// Learner consumes patterns.feedback decisions.
type Learner struct {
	suggestions SuggestionStore
	begin       func(driver string) (ApprovalTransaction, error)
	publish     bus.Bus
	driver      string
	cfg         Config
}

// New builds a Learner. begin opens a fresh ApprovalTransaction per
// decision, scoped to driver (the repository's configured SQL dialect).
func New(suggestions SuggestionStore, begin func(driver string) (ApprovalTransaction, error), publish bus.Bus, driver string, cfg Config) *Learner {
	return &Learner{suggestions: suggestions, begin: begin, publish: publish, driver: driver, cfg: cfg}
}

// Handler returns the bus.Handler for patterns.feedback.
func (l *Learner) Handler() bus.Handler {
	return func(ctx context.Context, msg *bus.Message) error {
		var decision model.FeedbackDecision
		if err := json.Unmarshal(msg.Data, &decision); err != nil {
			if termErr := msg.Term(); termErr != nil {
				return termErr
			}
			return errkind.Poison("feedback.decode", err)
		}

		if err := l.Apply(ctx, decision); err != nil {
			if _, transient := err.(*errkind.TransientRemoteError); transient {
				return msg.Nak()
			}
			log.Errorf("feedback: applying decision on suggestion %s failed: %v", decision.SuggestionID, err)
			return msg.Term()
		}
		return msg.Ack()
	}
}

// Apply resolves decision's target Suggestion and drives the matching
// ApprovalTransaction branch (§4.H steps 1-5). Deferred decisions never
// touch pattern confidence (§4.H step 1's "no-op beyond logging").
func (l *Learner) Apply(ctx context.Context, decision model.FeedbackDecision) error {
	s, err := l.suggestions.SuggestionByID(decision.SuggestionID)
	if err != nil {
		return fmt.Errorf("feedback: load suggestion %s: %w", decision.SuggestionID, err)
	}
	if s == nil {
		return fmt.Errorf("feedback: suggestion %s not found", decision.SuggestionID)
	}
	if s.Status != model.SuggestionPending {
		return errkind.Contract("feedback.apply",
			fmt.Errorf("suggestion %s already resolved (status %s)", s.ID, s.Status))
	}

	tx, err := l.begin(l.driver)
	if err != nil {
		return fmt.Errorf("feedback: begin transaction: %w", err)
	}

	switch decision.Action {
	case model.FeedbackApproved:
		err = tx.ApproveSuggestion(s, l.cfg.DeltaUp, l.cfg.ConfidenceFloor, decision.UserID, decision.Bindings)
	case model.FeedbackRejected:
		err = tx.RejectSuggestion(s, l.cfg.DeltaDown, l.cfg.ConfidenceFloor, decision.UserID, decision.Reason)
	case model.FeedbackDeferred:
		err = tx.DeferSuggestion(s, decision.UserID, decision.Reason)
	default:
		_ = tx.Rollback()
		return fmt.Errorf("feedback: unknown action %q on suggestion %s", decision.Action, s.ID)
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("feedback: apply %s to suggestion %s: %w", decision.Action, s.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("feedback: commit suggestion %s: %w", s.ID, err)
	}

	if decision.Action == model.FeedbackDeferred {
		return nil
	}
	l.publishUpdate(ctx, s, decision.Action)
	return nil
}

// publishUpdate emits patterns.updated best-effort: a publish failure is
// logged, not retried, since the confidence change already committed and
// the next scan will read it from storage regardless (Open Question
// Resolution: patterns.updated is advisory, not authoritative).
func (l *Learner) publishUpdate(ctx context.Context, s *model.Suggestion, action model.FeedbackAction) {
	pattern, err := l.suggestions.PatternByID(s.PatternID)
	if err != nil {
		log.Warnf("feedback: reloading pattern %s for patterns.updated failed: %v", s.PatternID, err)
		return
	}
	if pattern == nil {
		return
	}

	kind := model.PatternUpdateIncreased
	if action == model.FeedbackRejected {
		kind = model.PatternUpdateDecreased
	}

	metrics.PatternConfidence.WithLabelValues(pattern.Name).Observe(pattern.Confidence)

	event := model.PatternUpdatedEvent{
		PatternID:  pattern.ID,
		Kind:       kind,
		Confidence: pattern.Confidence,
		ProducedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Warnf("feedback: marshal patterns.updated for pattern %s failed: %v", pattern.ID, err)
		return
	}
	if err := l.publish.Publish(ctx, bus.TopicPatternUpdates, pattern.ID.String(), data); err != nil {
		log.Warnf("feedback: publishing patterns.updated for pattern %s failed: %v", pattern.ID, err)
	}
}
