package repository

import (
	"fmt"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var feedbackColumns = []string{
	"id", "suggestion_id", "pattern_id", "action", "user_id", "reason", "at",
}

func scanFeedback(row interface{ Scan(...any) error }) (*model.FeedbackRecord, error) {
	f := &model.FeedbackRecord{}
	if err := row.Scan(&f.ID, &f.SuggestionID, &f.PatternID, &f.Action, &f.UserID, &f.Reason, &f.At); err != nil {
		return nil, err
	}
	return f, nil
}

// AppendFeedback inserts an immutable FeedbackRecord. Records are never
// updated or deleted once written (§3).
func (r *Repository) AppendFeedback(f *model.FeedbackRecord) (*model.FeedbackRecord, error) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}

	_, err := r.DB.Exec(
		`INSERT INTO pattern_feedback_log (id, suggestion_id, pattern_id, action, user_id, reason, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID.String(), f.SuggestionID.String(), f.PatternID.String(), f.Action, f.UserID, f.Reason, f.At,
	)
	if err != nil {
		return nil, fmt.Errorf("append feedback: %w", err)
	}
	return f, nil
}

// FeedbackForSuggestion loads one suggestion's full feedback history, most
// recent first, for the archiver to embed in its archive row before the
// suggestion's cluster is purged.
func (r *Repository) FeedbackForSuggestion(suggestionID uuid.UUID) ([]*model.FeedbackRecord, error) {
	rows, err := sq.Select(feedbackColumns...).From("pattern_feedback_log").
		Where(sq.Eq{"suggestion_id": suggestionID.String()}).OrderBy("at DESC").
		RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("feedback for suggestion %s: %w", suggestionID, err)
	}
	defer rows.Close()

	var out []*model.FeedbackRecord
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FeedbackForPattern loads a pattern's full feedback history, most recent
// first, for the feedback learner's confidence recomputation (§4.H).
func (r *Repository) FeedbackForPattern(patternID uuid.UUID) ([]*model.FeedbackRecord, error) {
	rows, err := sq.Select(feedbackColumns...).From("pattern_feedback_log").
		Where(sq.Eq{"pattern_id": patternID.String()}).OrderBy("at DESC").
		RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("feedback for pattern %s: %w", patternID, err)
	}
	defer rows.Close()

	var out []*model.FeedbackRecord
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
