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

var patternColumns = []string{"id", "name", "confidence", "active", "learned", "created_at", "updated_at"}

func scanPattern(row interface{ Scan(...any) error }) (*model.Pattern, error) {
	p := &model.Pattern{}
	if err := row.Scan(&p.ID, &p.Name, &p.Confidence, &p.Active, &p.Learned, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

var roleColumns = []string{
	"id", "pattern_id", "role_name", "naming_regexes", "requirements", "typical_unit",
	"typical_min", "typical_max", "typical_rate_ms", "required", "sort_order",
}

func scanRole(row interface{ Scan(...any) error }) (*model.PatternRole, error) {
	role := &model.PatternRole{}
	var regexesJSON, requirementsJSON sql.NullString
	var typicalUnit sql.NullString
	var typicalMin, typicalMax, typicalRateMs sql.NullFloat64
	if err := row.Scan(
		&role.ID, &role.PatternID, &role.Name, &regexesJSON, &requirementsJSON, &typicalUnit,
		&typicalMin, &typicalMax, &typicalRateMs, &role.Required, &role.SortOrder,
	); err != nil {
		return nil, err
	}
	if regexesJSON.Valid && regexesJSON.String != "" {
		if err := json.Unmarshal([]byte(regexesJSON.String), &role.NamingRegexes); err != nil {
			return nil, fmt.Errorf("unmarshal naming_regexes: %w", err)
		}
	}
	if requirementsJSON.Valid && requirementsJSON.String != "" {
		if err := json.Unmarshal([]byte(requirementsJSON.String), &role.Requirements); err != nil {
			return nil, fmt.Errorf("unmarshal requirements: %w", err)
		}
	}
	role.TypicalUnit = typicalUnit.String
	if typicalMin.Valid {
		v := typicalMin.Float64
		role.TypicalMin = &v
	}
	if typicalMax.Valid {
		v := typicalMax.Float64
		role.TypicalMax = &v
	}
	if typicalRateMs.Valid {
		v := typicalRateMs.Float64
		role.TypicalRateMs = &v
	}
	return role, nil
}

// CreatePattern inserts a Pattern and its roles in one round-trip group.
func (r *Repository) CreatePattern(p *model.Pattern) (*model.Pattern, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	tx, err := r.DB.Beginx()
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO patterns (id, name, confidence, active, learned, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.Name, p.Confidence, p.Active, p.Learned, p.CreatedAt, p.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert pattern: %w", err)
	}

	for i := range p.Roles {
		role := &p.Roles[i]
		if role.ID == uuid.Nil {
			role.ID = uuid.New()
		}
		role.PatternID = p.ID
		regexesJSON, err := json.Marshal(role.NamingRegexes)
		if err != nil {
			return nil, fmt.Errorf("marshal naming_regexes: %w", err)
		}
		requirementsJSON, err := json.Marshal(role.Requirements)
		if err != nil {
			return nil, fmt.Errorf("marshal requirements: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO pattern_roles (id, pattern_id, role_name, naming_regexes, requirements, typical_unit, typical_min, typical_max, typical_rate_ms, required, sort_order)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			role.ID.String(), p.ID.String(), role.Name, string(regexesJSON), string(requirementsJSON), role.TypicalUnit,
			role.TypicalMin, role.TypicalMax, role.TypicalRateMs, role.Required, role.SortOrder,
		); err != nil {
			return nil, fmt.Errorf("insert pattern_role %s: %w", role.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

// ActivePatterns loads every active Pattern with its roles, ordered by
// sort_order within each pattern, for the Pattern Matcher's per-cluster
// scoring pass (§4.G).
func (r *Repository) ActivePatterns() ([]*model.Pattern, error) {
	rows, err := sq.Select(patternColumns...).From("patterns").
		Where(sq.Eq{"active": true}).RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("list active patterns: %w", err)
	}

	var patterns []*model.Pattern
	byID := make(map[uuid.UUID]*model.Pattern)
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		patterns = append(patterns, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(patterns) == 0 {
		return patterns, nil
	}

	ids := make([]string, len(patterns))
	for i, p := range patterns {
		ids[i] = p.ID.String()
	}

	roleRows, err := sq.Select(roleColumns...).From("pattern_roles").
		Where(sq.Eq{"pattern_id": ids}).OrderBy("pattern_id", "sort_order").
		RunWith(r.stmtCache).Query()
	if err != nil {
		return nil, fmt.Errorf("list pattern roles: %w", err)
	}
	defer roleRows.Close()

	for roleRows.Next() {
		role, err := scanRole(roleRows)
		if err != nil {
			return nil, err
		}
		if p, ok := byID[role.PatternID]; ok {
			p.Roles = append(p.Roles, *role)
		}
	}
	return patterns, roleRows.Err()
}

func (r *Repository) PatternByID(id uuid.UUID) (*model.Pattern, error) {
	row := sq.Select(patternColumns...).From("patterns").
		Where(sq.Eq{"id": id.String()}).RunWith(r.stmtCache).QueryRow()
	p, err := scanPattern(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pattern by id %s: %w", id, err)
	}
	return p, nil
}
