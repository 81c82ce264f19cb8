package feedback

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fieldflywheel/ingest-flywheel/internal/bus"
	"github.com/fieldflywheel/ingest-flywheel/internal/errkind"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSuggestionStore struct {
	suggestions map[uuid.UUID]*model.Suggestion
	patterns    map[uuid.UUID]*model.Pattern
}

func (f *fakeSuggestionStore) SuggestionByID(id uuid.UUID) (*model.Suggestion, error) {
	return f.suggestions[id], nil
}

func (f *fakeSuggestionStore) PatternByID(id uuid.UUID) (*model.Pattern, error) {
	return f.patterns[id], nil
}

type fakeTx struct {
	approved, rejected, deferred bool
	committed, rolledBack        bool
}

func (t *fakeTx) ApproveSuggestion(s *model.Suggestion, delta, floor float64, userID string, bindings []model.PatternBinding) error {
	t.approved = true
	s.Status = model.SuggestionApplied
	return nil
}

func (t *fakeTx) RejectSuggestion(s *model.Suggestion, delta, floor float64, userID, reason string) error {
	t.rejected = true
	s.Status = model.SuggestionRejected
	return nil
}

func (t *fakeTx) DeferSuggestion(s *model.Suggestion, userID, reason string) error {
	t.deferred = true
	s.Status = model.SuggestionDeferred
	return nil
}

func (t *fakeTx) Commit() error   { t.committed = true; return nil }
func (t *fakeTx) Rollback() error { t.rolledBack = true; return nil }

type fakeBus struct {
	published []publishedMsg
}

type publishedMsg struct {
	topic, key string
	data       []byte
}

func (b *fakeBus) Publish(ctx context.Context, topic, key string, data []byte) error {
	b.published = append(b.published, publishedMsg{topic, key, data})
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, topic string, group bus.ConsumerGroup, handler bus.Handler) (bus.Subscription, error) {
	return nil, nil
}

func (b *fakeBus) NumPartitions(topic string) int { return 1 }
func (b *fakeBus) Close() error                   { return nil }

func newLearner(store *fakeSuggestionStore, tx *fakeTx, publish *fakeBus) *Learner {
	return New(store, func(driver string) (ApprovalTransaction, error) { return tx, nil }, publish,
		"sqlite3", Config{DeltaUp: 0.05, DeltaDown: 0.10, ConfidenceFloor: 0.1})
}

func TestApplyApprovedCommitsAndPublishesIncrease(t *testing.T) {
	patternID := uuid.New()
	suggestionID := uuid.New()
	store := &fakeSuggestionStore{
		suggestions: map[uuid.UUID]*model.Suggestion{
			suggestionID: {ID: suggestionID, PatternID: patternID, Status: model.SuggestionPending},
		},
		patterns: map[uuid.UUID]*model.Pattern{
			patternID: {ID: patternID, Confidence: 0.75},
		},
	}
	tx := &fakeTx{}
	pub := &fakeBus{}
	l := newLearner(store, tx, pub)

	err := l.Apply(context.Background(), model.FeedbackDecision{SuggestionID: suggestionID, Action: model.FeedbackApproved, UserID: "alice"})
	require.NoError(t, err)
	assert.True(t, tx.approved)
	assert.True(t, tx.committed)
	require.Len(t, pub.published, 1)
	assert.Equal(t, bus.TopicPatternUpdates, pub.published[0].topic)

	var event model.PatternUpdatedEvent
	require.NoError(t, json.Unmarshal(pub.published[0].data, &event))
	assert.Equal(t, model.PatternUpdateIncreased, event.Kind)
}

func TestApplyRejectedPublishesDecrease(t *testing.T) {
	patternID := uuid.New()
	suggestionID := uuid.New()
	store := &fakeSuggestionStore{
		suggestions: map[uuid.UUID]*model.Suggestion{
			suggestionID: {ID: suggestionID, PatternID: patternID, Status: model.SuggestionPending},
		},
		patterns: map[uuid.UUID]*model.Pattern{
			patternID: {ID: patternID, Confidence: 0.6},
		},
	}
	tx := &fakeTx{}
	pub := &fakeBus{}
	l := newLearner(store, tx, pub)

	err := l.Apply(context.Background(), model.FeedbackDecision{SuggestionID: suggestionID, Action: model.FeedbackRejected, Reason: "wrong role"})
	require.NoError(t, err)
	assert.True(t, tx.rejected)

	var event model.PatternUpdatedEvent
	require.NoError(t, json.Unmarshal(pub.published[0].data, &event))
	assert.Equal(t, model.PatternUpdateDecreased, event.Kind)
}

func TestApplyDeferredSkipsPublish(t *testing.T) {
	patternID := uuid.New()
	suggestionID := uuid.New()
	store := &fakeSuggestionStore{
		suggestions: map[uuid.UUID]*model.Suggestion{
			suggestionID: {ID: suggestionID, PatternID: patternID, Status: model.SuggestionPending},
		},
		patterns: map[uuid.UUID]*model.Pattern{patternID: {ID: patternID}},
	}
	tx := &fakeTx{}
	pub := &fakeBus{}
	l := newLearner(store, tx, pub)

	err := l.Apply(context.Background(), model.FeedbackDecision{SuggestionID: suggestionID, Action: model.FeedbackDeferred})
	require.NoError(t, err)
	assert.True(t, tx.deferred)
	assert.Empty(t, pub.published)
}

func TestApplyOnAlreadyResolvedSuggestionIsRejected(t *testing.T) {
	patternID := uuid.New()
	suggestionID := uuid.New()
	store := &fakeSuggestionStore{
		suggestions: map[uuid.UUID]*model.Suggestion{
			suggestionID: {ID: suggestionID, PatternID: patternID, Status: model.SuggestionApplied},
		},
		patterns: map[uuid.UUID]*model.Pattern{patternID: {ID: patternID}},
	}
	tx := &fakeTx{}
	pub := &fakeBus{}
	l := newLearner(store, tx, pub)

	err := l.Apply(context.Background(), model.FeedbackDecision{SuggestionID: suggestionID, Action: model.FeedbackApproved})
	require.Error(t, err)
	var cv *errkind.ContractViolationError
	assert.ErrorAs(t, err, &cv)
	assert.False(t, tx.approved)
	assert.False(t, tx.committed)
}

func TestApplyUnknownSuggestionErrors(t *testing.T) {
	store := &fakeSuggestionStore{suggestions: map[uuid.UUID]*model.Suggestion{}, patterns: map[uuid.UUID]*model.Pattern{}}
	l := newLearner(store, &fakeTx{}, &fakeBus{})

	err := l.Apply(context.Background(), model.FeedbackDecision{SuggestionID: uuid.New(), Action: model.FeedbackApproved})
	assert.Error(t, err)
}
