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

var correlationColumns = []string{
	"point_id_1", "point_id_2", "r", "sample_count", "window_start", "window_end",
	"lag_ms", "leading_flag", "updated_at",
}

func scanCorrelation(row interface{ Scan(...any) error }) (*model.PairCorrelation, error) {
	c := &model.PairCorrelation{}
	var lagMs sql.NullInt64
	var leading sql.NullBool
	if err := row.Scan(
		&c.PointA, &c.PointB, &c.R, &c.SampleCount, &c.WindowStart, &c.WindowEnd,
		&lagMs, &leading, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lagMs.Valid {
		v := lagMs.Int64
		c.LagMs = &v
	}
	if leading.Valid {
		v := leading.Bool
		c.Leading = &v
	}
	return c, nil
}

// UpsertCorrelation stores a PairCorrelation under its canonical pair
// ordering (point_id_1 < point_id_2), swapping the lag/leading semantics
// to match if the caller's pair arrived reversed (Open Question 2).
func (r *Repository) UpsertCorrelation(driver string, c *model.PairCorrelation) error {
	lo, hi, swapped := model.CanonicalPair(c.PointA, c.PointB)
	lagMs, leading := c.LagMs, c.Leading
	if swapped {
		if lagMs != nil {
			negated := -*lagMs
			lagMs = &negated
		}
		if leading != nil {
			flipped := !*leading
			leading = &flipped
		}
	}
	c.PointA, c.PointB = lo, hi
	c.LagMs, c.Leading = lagMs, leading
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	var q string
	switch driver {
	case "mysql":
		q = `INSERT INTO correlation_cache (point_id_1, point_id_2, r, sample_count, window_start, window_end, lag_ms, leading_flag, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE r = VALUES(r), sample_count = VALUES(sample_count), window_start = VALUES(window_start),
			 window_end = VALUES(window_end), lag_ms = VALUES(lag_ms), leading_flag = VALUES(leading_flag), updated_at = VALUES(updated_at)`
	default:
		q = `INSERT INTO correlation_cache (point_id_1, point_id_2, r, sample_count, window_start, window_end, lag_ms, leading_flag, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(point_id_1, point_id_2) DO UPDATE SET r = excluded.r, sample_count = excluded.sample_count,
			 window_start = excluded.window_start, window_end = excluded.window_end, lag_ms = excluded.lag_ms,
			 leading_flag = excluded.leading_flag, updated_at = excluded.updated_at`
	}

	_, err := r.DB.Exec(q,
		c.PointA.String(), c.PointB.String(), c.R, c.SampleCount, c.WindowStart, c.WindowEnd,
		c.LagMs, c.Leading, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert correlation: %w", err)
	}
	return nil
}

// Correlation loads the cached PairCorrelation for two points, regardless
// of the order they are passed in.
func (r *Repository) Correlation(a, b uuid.UUID) (*model.PairCorrelation, error) {
	lo, hi, _ := model.CanonicalPair(a, b)
	row := sq.Select(correlationColumns...).From("correlation_cache").
		Where(sq.Eq{"point_id_1": lo.String(), "point_id_2": hi.String()}).
		RunWith(r.stmtCache).QueryRow()

	c, err := scanCorrelation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("correlation for (%s, %s): %w", a, b, err)
	}
	return c, nil
}

// SignificantCorrelations loads every pair whose |r| meets or exceeds
// threshold, the edge set the Cluster Detector builds its graph from
// (§4.F).
func (r *Repository) SignificantCorrelations(threshold float64) ([]*model.PairCorrelation, error) {
	rows, err := sq.Select(correlationColumns...).From("correlation_cache").
		Where(sq.Or{sq.GtOrEq{"r": threshold}, sq.LtOrEq{"r": -threshold}}).
		RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("significant correlations: %w", err)
	}
	defer rows.Close()

	var out []*model.PairCorrelation
	for rows.Next() {
		c, err := scanCorrelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
