package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var bindingColumns = []string{"point_id", "pattern_id", "role_id", "created_at", "updated_at"}

func scanBinding(row interface{ Scan(...any) error }) (*model.PatternBinding, error) {
	b := &model.PatternBinding{}
	if err := row.Scan(&b.PointID, &b.PatternID, &b.RoleID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return b, nil
}

// UpsertBinding records that a Point now fills a role within a Pattern,
// replacing any prior binding for the same (point_id, pattern_id) pair
// (§3 invariant "at most one role per point per pattern"). driver selects
// the dialect-specific upsert clause; sqlite3 and mysql phrase it
// differently.
func (r *Repository) UpsertBinding(driver string, b *model.PatternBinding) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	var q string
	switch driver {
	case "mysql":
		q = `INSERT INTO point_pattern_bindings (point_id, pattern_id, role_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE role_id = VALUES(role_id), updated_at = VALUES(updated_at)`
	default:
		q = `INSERT INTO point_pattern_bindings (point_id, pattern_id, role_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(point_id, pattern_id) DO UPDATE SET role_id = excluded.role_id, updated_at = excluded.updated_at`
	}

	_, err := r.DB.Exec(q, b.PointID.String(), b.PatternID.String(), b.RoleID.String(), b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

// BindingsForPattern loads every Point currently bound into a Pattern's
// roles, for the feedback learner's re-evaluation pass (§4.H).
func (r *Repository) BindingsForPattern(patternID uuid.UUID) ([]*model.PatternBinding, error) {
	rows, err := sq.Select(bindingColumns...).From("point_pattern_bindings").
		Where(sq.Eq{"pattern_id": patternID.String()}).RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("bindings for pattern %s: %w", patternID, err)
	}
	defer rows.Close()

	var out []*model.PatternBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BindingForPoint loads the binding for a single point, if any.
func (r *Repository) BindingForPoint(pointID uuid.UUID) (*model.PatternBinding, error) {
	row := sq.Select(bindingColumns...).From("point_pattern_bindings").
		Where(sq.Eq{"point_id": pointID.String()}).RunWith(r.stmtCache).QueryRow()
	b, err := scanBinding(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("binding for point %s: %w", pointID, err)
	}
	return b, nil
}

// DeleteBinding removes every binding held by a point. Nothing in this
// module calls it; the feedback learner's reject path creates no bindings
// and removes none.
func (r *Repository) DeleteBinding(pointID uuid.UUID) error {
	_, err := r.DB.Exec(`DELETE FROM point_pattern_bindings WHERE point_id = ?`, pointID.String())
	if err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	return nil
}
