package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var pointColumns = []string{
	"id", "sequence_id", "name", "address", "unit", "value_type",
	"data_source_id", "description", "created_at", "deleted_at",
}

func scanPoint(row interface{ Scan(...any) error }) (*model.Point, error) {
	p := &model.Point{}
	var dataSourceID sql.NullString
	var description sql.NullString
	var deletedAt sql.NullTime
	if err := row.Scan(
		&p.ID, &p.SequenceID, &p.Name, &p.Address, &p.Unit, &p.ValueType,
		&dataSourceID, &description, &p.CreatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	if dataSourceID.Valid {
		id, err := uuid.Parse(dataSourceID.String)
		if err != nil {
			return nil, fmt.Errorf("parse data_source_id: %w", err)
		}
		p.DataSourceID = &id
	}
	p.Description = description.String
	if deletedAt.Valid {
		t := deletedAt.Time
		p.DeletedAt = &t
	}
	return p, nil
}

// RegisterPoint inserts a new Point, assigning it a fresh sequence_id via
// the database's auto-increment primary key. sequence_id is therefore
// assigned exactly once and never reused, even across soft deletes.
func (r *Repository) RegisterPoint(p *model.Point) (*model.Point, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()

	var dataSourceID any
	if p.DataSourceID != nil {
		dataSourceID = p.DataSourceID.String()
	}

	res, err := r.DB.Exec(
		`INSERT INTO points (id, name, address, unit, value_type, data_source_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.Name, p.Address, p.Unit, p.ValueType, dataSourceID, p.Description, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert point: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	p.SequenceID = seq
	return p, nil
}

// PointByAddress resolves a source-address to its Point, read-through a
// cache keyed by address. This is the hot path the Ingestion Consumer's
// LRU sits in front of (§4.C).
func (r *Repository) PointByAddress(address string) (*model.Point, error) {
	cacheKey := "point:address:" + address
	if cached := r.cache.Get(cacheKey, nil); cached != nil {
		return cached.(*model.Point), nil
	}

	row := sq.Select(pointColumns...).From("points").
		Where(sq.Eq{"address": address}).Where("deleted_at IS NULL").
		RunWith(r.stmtCache).QueryRow()

	p, err := scanPoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("point by address %q: %w", address, err)
	}

	r.cache.Put(cacheKey, p, 1, 0)
	return p, nil
}

// PointBySequenceID loads a Point by its time-series-store key.
func (r *Repository) PointBySequenceID(seq int64) (*model.Point, error) {
	row := sq.Select(pointColumns...).From("points").
		Where(sq.Eq{"sequence_id": seq}).
		RunWith(r.stmtCache).QueryRow()

	p, err := scanPoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("point by sequence_id %d: %w", seq, err)
	}
	return p, nil
}

// PointByID loads a Point by its stable UUID.
func (r *Repository) PointByID(id uuid.UUID) (*model.Point, error) {
	row := sq.Select(pointColumns...).From("points").
		Where(sq.Eq{"id": id.String()}).
		RunWith(r.stmtCache).QueryRow()

	p, err := scanPoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("point by id %s: %w", id, err)
	}
	return p, nil
}

// PointsByIDs loads several Points in one round-trip, for the pattern
// matcher and cluster detector's member resolution.
func (r *Repository) PointsByIDs(ids []uuid.UUID) ([]*model.Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}

	rows, err := sq.Select(pointColumns...).From("points").
		Where(sq.Eq{"id": strs}).
		RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("points by ids: %w", err)
	}
	defer rows.Close()

	var points []*model.Point
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// PointsByDataSource loads every non-deleted Point sharing a data source,
// the Correlation Engine's candidate-partner pool (§4.E).
func (r *Repository) PointsByDataSource(dataSourceID uuid.UUID) ([]*model.Point, error) {
	rows, err := sq.Select(pointColumns...).From("points").
		Where(sq.Eq{"data_source_id": dataSourceID.String()}).Where("deleted_at IS NULL").
		RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("points by data source %s: %w", dataSourceID, err)
	}
	defer rows.Close()

	var points []*model.Point
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// SoftDeletePoint marks a Point deleted without removing its row; historic
// time-series data referencing its sequence_id stays valid (§3).
func (r *Repository) SoftDeletePoint(id uuid.UUID) error {
	now := time.Now().UTC()
	_, err := r.DB.Exec(`UPDATE points SET deleted_at = ? WHERE id = ?`, now, id.String())
	if err != nil {
		log.Errorf("soft delete point %s: %v", id, err)
		return fmt.Errorf("soft delete point: %w", err)
	}
	return nil
}
