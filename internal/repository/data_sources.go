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

var dataSourceColumns = []string{
	"id", "name", "kind", "connection_config", "status", "created_at", "updated_at",
}

func scanDataSource(row interface{ Scan(...any) error }) (*model.DataSource, error) {
	ds := &model.DataSource{}
	if err := row.Scan(&ds.ID, &ds.Name, &ds.Kind, &ds.ConnectionConfig, &ds.Status, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
		return nil, err
	}
	return ds, nil
}

// CreateDataSource inserts a new DataSource, operator- or
// discovery-created (§3).
func (r *Repository) CreateDataSource(ds *model.DataSource) (*model.DataSource, error) {
	if ds.ID == uuid.Nil {
		ds.ID = uuid.New()
	}
	now := time.Now().UTC()
	ds.CreatedAt, ds.UpdatedAt = now, now
	if ds.Status == "" {
		ds.Status = model.DataSourceHealthy
	}

	_, err := r.DB.Exec(
		`INSERT INTO data_sources (id, name, kind, connection_config, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ds.ID.String(), ds.Name, ds.Kind, ds.ConnectionConfig, ds.Status, ds.CreatedAt, ds.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert data_source: %w", err)
	}
	return ds, nil
}

func (r *Repository) DataSourceByID(id uuid.UUID) (*model.DataSource, error) {
	row := sq.Select(dataSourceColumns...).From("data_sources").
		Where(sq.Eq{"id": id.String()}).RunWith(r.stmtCache).QueryRow()

	ds, err := scanDataSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("data source by id %s: %w", id, err)
	}
	return ds, nil
}

// UpdateDataSourceStatus records the adapter's last-observed health.
func (r *Repository) UpdateDataSourceStatus(id uuid.UUID, status model.DataSourceStatus) error {
	_, err := r.DB.Exec(`UPDATE data_sources SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("update data source status: %w", err)
	}
	return nil
}

func (r *Repository) ListDataSources() ([]*model.DataSource, error) {
	rows, err := sq.Select(dataSourceColumns...).From("data_sources").
		OrderBy("name").RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	defer rows.Close()

	var out []*model.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}
