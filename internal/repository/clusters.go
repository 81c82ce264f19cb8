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

var clusterColumns = []string{
	"id", "member_key", "average_cohesion", "min_correlation", "max_correlation",
	"algorithm", "source", "detected_at", "expires_at",
}

func scanCluster(row interface{ Scan(...any) error }) (*model.Cluster, string, error) {
	c := &model.Cluster{}
	var memberKey string
	if err := row.Scan(
		&c.ID, &memberKey, &c.AverageCohesion, &c.MinCorrelation, &c.MaxCorrelation,
		&c.Algorithm, &c.Source, &c.DetectedAt, &c.ExpiresAt,
	); err != nil {
		return nil, "", err
	}
	return c, memberKey, nil
}

// UpsertCluster writes a Cluster and its member list, deduplicating on the
// cluster's MemberKey (§4.F "re-detecting an identical member set refreshes
// rather than duplicates"). driver selects the dialect-specific upsert.
func (r *Repository) UpsertCluster(driver string, c *model.Cluster) (*model.Cluster, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	memberKey := c.MemberKey()

	tx, err := r.DB.Beginx()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.Get(&existingID, `SELECT id FROM behavioral_clusters WHERE member_key = ?`, memberKey)
	switch {
	case err == nil:
		c.ID, _ = uuid.Parse(existingID)
		_, err = tx.Exec(
			`UPDATE behavioral_clusters SET average_cohesion = ?, min_correlation = ?, max_correlation = ?,
			 algorithm = ?, source = ?, detected_at = ?, expires_at = ? WHERE id = ?`,
			c.AverageCohesion, c.MinCorrelation, c.MaxCorrelation, c.Algorithm, c.Source,
			c.DetectedAt, c.ExpiresAt, c.ID.String(),
		)
		if err != nil {
			return nil, fmt.Errorf("update cluster: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM cluster_members WHERE cluster_id = ?`, c.ID.String()); err != nil {
			return nil, fmt.Errorf("clear cluster members: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.Exec(
			`INSERT INTO behavioral_clusters (id, member_key, average_cohesion, min_correlation, max_correlation,
			 algorithm, source, detected_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), memberKey, c.AverageCohesion, c.MinCorrelation, c.MaxCorrelation,
			c.Algorithm, c.Source, c.DetectedAt, c.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert cluster: %w", err)
		}
	default:
		return nil, fmt.Errorf("lookup cluster by member_key: %w", err)
	}

	for _, memberID := range c.MemberIDs {
		if _, err := tx.Exec(
			`INSERT INTO cluster_members (cluster_id, point_id) VALUES (?, ?)`,
			c.ID.String(), memberID.String(),
		); err != nil {
			return nil, fmt.Errorf("insert cluster member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// ClusterByID loads a Cluster with its member ids.
func (r *Repository) ClusterByID(id uuid.UUID) (*model.Cluster, error) {
	row := sq.Select(clusterColumns...).From("behavioral_clusters").
		Where(sq.Eq{"id": id.String()}).RunWith(r.stmtCache).QueryRow()

	c, _, err := scanCluster(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cluster by id %s: %w", id, err)
	}

	members, err := r.clusterMembers(id)
	if err != nil {
		return nil, err
	}
	c.MemberIDs = members
	return c, nil
}

func (r *Repository) clusterMembers(clusterID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := sq.Select("point_id").From("cluster_members").
		Where(sq.Eq{"cluster_id": clusterID.String()}).RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("cluster members: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LiveClusters loads every cluster that has not yet expired, for the
// pattern matcher's per-cycle scoring pass (§4.G).
func (r *Repository) LiveClusters() ([]*model.Cluster, error) {
	rows, err := sq.Select(clusterColumns...).From("behavioral_clusters").
		Where(sq.Gt{"expires_at": time.Now().UTC()}).RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("live clusters: %w", err)
	}

	var clusters []*model.Cluster
	for rows.Next() {
		c, _, err := scanCluster(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, c := range clusters {
		members, err := r.clusterMembers(c.ID)
		if err != nil {
			return nil, err
		}
		c.MemberIDs = members
	}
	return clusters, nil
}

// ExpiredClusters loads every cluster past its expiry, for the
// orchestrator's periodic cache purge to hand to the archiver before
// deletion (§4.I, §3 "expiration policy").
func (r *Repository) ExpiredClusters() ([]*model.Cluster, error) {
	rows, err := sq.Select(clusterColumns...).From("behavioral_clusters").
		Where(sq.LtOrEq{"expires_at": time.Now().UTC()}).RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("expired clusters: %w", err)
	}

	var clusters []*model.Cluster
	for rows.Next() {
		c, _, err := scanCluster(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, c := range clusters {
		members, err := r.clusterMembers(c.ID)
		if err != nil {
			return nil, err
		}
		c.MemberIDs = members
	}
	return clusters, nil
}

// DeleteCluster removes a cluster and its member rows, called once the
// archiver has written it to cold storage.
func (r *Repository) DeleteCluster(id uuid.UUID) error {
	tx, err := r.DB.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM cluster_members WHERE cluster_id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete cluster members: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM behavioral_clusters WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete cluster: %w", err)
	}
	return tx.Commit()
}
