package aliases

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spendlens/core/pkg/database"
	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/problem"
)

// SQLiteStore backs the registry in lite mode. Timestamps are stored as
// RFC 3339 text.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func scanAliasLite(row *sql.Row) (*expense.VendorAlias, error) {
	var a expense.VendorAlias
	var lastMatched sql.NullString
	err := row.Scan(
		&a.ID, &a.CanonicalName, &a.AliasPattern, &a.DisplayName, &a.Category,
		&a.DefaultGLCode, &a.DefaultDepartment,
		&a.GLConfirmCount, &a.DeptConfirmCount, &a.MatchCount, &lastMatched, &a.Confidence,
	)
	if err != nil {
		return nil, err
	}
	if lastMatched.Valid {
		t := database.ParseTime(lastMatched.String)
		a.LastMatchedAt = &t
	}
	return &a, nil
}

func (s *SQLiteStore) Find(ctx context.Context, description string) (*expense.VendorAlias, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE vendor_aliases
		SET match_count = match_count + 1, last_matched_at = ?
		WHERE id = (
			SELECT id FROM vendor_aliases
			WHERE instr(upper(?), upper(alias_pattern)) > 0
			ORDER BY confidence DESC, match_count DESC, length(alias_pattern) DESC
			LIMIT 1
		)
		RETURNING `+aliasColumns,
		database.FormatTime(time.Now()), description)

	a, err := scanAliasLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("aliases: find: %w", err)
	}
	return a, true, nil
}

func (s *SQLiteStore) FindInCategories(ctx context.Context, description string, categories []expense.AliasCategory) (*expense.VendorAlias, bool, error) {
	if len(categories) == 0 {
		return s.Find(ctx, description)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(categories)), ",")
	args := []any{database.FormatTime(time.Now()), description}
	for _, c := range categories {
		args = append(args, string(c))
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE vendor_aliases
		SET match_count = match_count + 1, last_matched_at = ?
		WHERE id = (
			SELECT id FROM vendor_aliases
			WHERE instr(upper(?), upper(alias_pattern)) > 0 AND category IN (`+placeholders+`)
			ORDER BY confidence DESC, match_count DESC, length(alias_pattern) DESC
			LIMIT 1
		)
		RETURNING `+aliasColumns,
		args...)

	a, err := scanAliasLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("aliases: find in categories: %w", err)
	}
	return a, true, nil
}

func (s *SQLiteStore) GetByCanonicalName(ctx context.Context, name string) (*expense.VendorAlias, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+aliasColumns+`
		FROM vendor_aliases
		WHERE canonical_name = ?
		ORDER BY confidence DESC, match_count DESC, length(alias_pattern) DESC
		LIMIT 1`,
		name)

	a, err := scanAliasLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.NotFound("aliases.GetByCanonicalName", "vendor alias", name)
	}
	if err != nil {
		return nil, fmt.Errorf("aliases: get by canonical name: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) GetByVendorName(ctx context.Context, name string) (*expense.VendorAlias, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+aliasColumns+`
		FROM vendor_aliases
		WHERE upper(canonical_name) = upper(trim(?))
		ORDER BY confidence DESC, match_count DESC, length(alias_pattern) DESC
		LIMIT 1`,
		name)

	a, err := scanAliasLite(row)
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("aliases: get by vendor name: %w", err)
	}
	return s.Find(ctx, name)
}

func (s *SQLiteStore) AddOrUpdate(ctx context.Context, a *expense.VendorAlias) error {
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (canonical_name, alias_pattern) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE display_name END,
			category = CASE WHEN excluded.category <> 'generic' THEN excluded.category ELSE category END,
			default_gl_code = COALESCE(excluded.default_gl_code, default_gl_code),
			default_department = COALESCE(excluded.default_department, default_department)
		RETURNING id`,
		a.ID, a.CanonicalName, a.AliasPattern, a.DisplayName, string(a.Category),
		nullable(a.DefaultGLCode), nullable(a.DefaultDepartment), a.Confidence,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("aliases: add or update: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordMatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vendor_aliases
		SET match_count = match_count + 1, last_matched_at = ?
		WHERE id = ?`,
		database.FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("aliases: record match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return problem.NotFound("aliases.RecordMatch", "vendor alias", id)
	}
	return nil
}

func (s *SQLiteStore) UpdateDefaults(ctx context.Context, a *expense.VendorAlias) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vendor_aliases
		SET default_gl_code = ?, default_department = ?,
			gl_confirm_count = ?, dept_confirm_count = ?
		WHERE id = ?`,
		nullable(a.DefaultGLCode), nullable(a.DefaultDepartment),
		a.GLConfirmCount, a.DeptConfirmCount, a.ID)
	if err != nil {
		return fmt.Errorf("aliases: update defaults: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return problem.NotFound("aliases.UpdateDefaults", "vendor alias", a.ID)
	}
	return nil
}
