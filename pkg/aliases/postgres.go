package aliases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/problem"
)

// aliasColumns is the scan list shared by every single-row query.
const aliasColumns = `id, canonical_name, alias_pattern, display_name, category,
	COALESCE(default_gl_code, ''), COALESCE(default_department, ''),
	gl_confirm_count, dept_confirm_count, match_count, last_matched_at, confidence`

// PostgresStore is the durable registry. Substring matching runs inside
// Postgres so at most one row crosses the wire per lookup.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanAlias(row *sql.Row) (*expense.VendorAlias, error) {
	var a expense.VendorAlias
	var lastMatched sql.NullTime
	err := row.Scan(
		&a.ID, &a.CanonicalName, &a.AliasPattern, &a.DisplayName, &a.Category,
		&a.DefaultGLCode, &a.DefaultDepartment,
		&a.GLConfirmCount, &a.DeptConfirmCount, &a.MatchCount, &lastMatched, &a.Confidence,
	)
	if err != nil {
		return nil, err
	}
	if lastMatched.Valid {
		a.LastMatchedAt = &lastMatched.Time
	}
	return &a, nil
}

func (s *PostgresStore) Find(ctx context.Context, description string) (*expense.VendorAlias, bool, error) {
	// Selection and counter bump happen in one statement.
	row := s.db.QueryRowContext(ctx, `
		UPDATE vendor_aliases
		SET match_count = match_count + 1, last_matched_at = NOW()
		WHERE id = (
			SELECT id FROM vendor_aliases
			WHERE $1 ILIKE '%' || alias_pattern || '%'
			ORDER BY confidence DESC, match_count DESC, char_length(alias_pattern) DESC
			LIMIT 1
		)
		RETURNING `+aliasColumns,
		description)

	a, err := scanAlias(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("aliases: find: %w", err)
	}
	return a, true, nil
}

func (s *PostgresStore) FindInCategories(ctx context.Context, description string, categories []expense.AliasCategory) (*expense.VendorAlias, bool, error) {
	if len(categories) == 0 {
		return s.Find(ctx, description)
	}
	cats := make([]string, len(categories))
	for i, c := range categories {
		cats[i] = string(c)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE vendor_aliases
		SET match_count = match_count + 1, last_matched_at = NOW()
		WHERE id = (
			SELECT id FROM vendor_aliases
			WHERE $1 ILIKE '%' || alias_pattern || '%' AND category = ANY($2)
			ORDER BY confidence DESC, match_count DESC, char_length(alias_pattern) DESC
			LIMIT 1
		)
		RETURNING `+aliasColumns,
		description, pq.Array(cats))

	a, err := scanAlias(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("aliases: find in categories: %w", err)
	}
	return a, true, nil
}

func (s *PostgresStore) GetByCanonicalName(ctx context.Context, name string) (*expense.VendorAlias, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+aliasColumns+`
		FROM vendor_aliases
		WHERE canonical_name = $1
		ORDER BY confidence DESC, match_count DESC, char_length(alias_pattern) DESC
		LIMIT 1`,
		name)

	a, err := scanAlias(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.NotFound("aliases.GetByCanonicalName", "vendor alias", name)
	}
	if err != nil {
		return nil, fmt.Errorf("aliases: get by canonical name: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetByVendorName(ctx context.Context, name string) (*expense.VendorAlias, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+aliasColumns+`
		FROM vendor_aliases
		WHERE UPPER(canonical_name) = UPPER(TRIM($1))
		ORDER BY confidence DESC, match_count DESC, char_length(alias_pattern) DESC
		LIMIT 1`,
		name)

	a, err := scanAlias(row)
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("aliases: get by vendor name: %w", err)
	}
	return s.Find(ctx, name)
}

func (s *PostgresStore) AddOrUpdate(ctx context.Context, a *expense.VendorAlias) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Category == "" {
		a.Category = expense.CategoryGeneric
	}
	if a.Confidence == 0 {
		a.Confidence = 1.0
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO vendor_aliases (
			id, canonical_name, alias_pattern, display_name, category,
			default_gl_code, default_department, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (canonical_name, alias_pattern) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE vendor_aliases.display_name END,
			category = CASE WHEN EXCLUDED.category <> 'generic' THEN EXCLUDED.category ELSE vendor_aliases.category END,
			default_gl_code = COALESCE(EXCLUDED.default_gl_code, vendor_aliases.default_gl_code),
			default_department = COALESCE(EXCLUDED.default_department, vendor_aliases.default_department)
		RETURNING id`,
		a.ID, a.CanonicalName, a.AliasPattern, a.DisplayName, string(a.Category),
		nullable(a.DefaultGLCode), nullable(a.DefaultDepartment), a.Confidence,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("aliases: add or update: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordMatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vendor_aliases
		SET match_count = match_count + 1, last_matched_at = NOW()
		WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("aliases: record match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return problem.NotFound("aliases.RecordMatch", "vendor alias", id)
	}
	return nil
}

func (s *PostgresStore) UpdateDefaults(ctx context.Context, a *expense.VendorAlias) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vendor_aliases
		SET default_gl_code = $2, default_department = $3,
			gl_confirm_count = $4, dept_confirm_count = $5
		WHERE id = $1`,
		a.ID, nullable(a.DefaultGLCode), nullable(a.DefaultDepartment),
		a.GLConfirmCount, a.DeptConfirmCount)
	if err != nil {
		return fmt.Errorf("aliases: update defaults: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return problem.NotFound("aliases.UpdateDefaults", "vendor alias", a.ID)
	}
	return nil
}

// nullable maps empty strings to NULL so COALESCE upserts keep existing
// values.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
