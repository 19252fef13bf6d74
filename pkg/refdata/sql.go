package refdata

import (
	"context"
	"database/sql"

	"github.com/spendlens/core/pkg/problem"
)

// SQLSource reads the reference tables. The queries carry no
// placeholders, so one implementation serves both drivers.
type SQLSource struct {
	db *sql.DB
}

// NewSQLSource wraps an open database handle.
func NewSQLSource(db *sql.DB) *SQLSource {
	return &SQLSource{db: db}
}

const (
	glAccountQuery = `SELECT code, name, category, active
FROM gl_accounts
WHERE active
ORDER BY code`

	departmentQuery = `SELECT code, name, active
FROM departments
WHERE active
ORDER BY code`
)

// GLAccounts returns the active accounts ordered by code.
func (s *SQLSource) GLAccounts(ctx context.Context) ([]GLAccount, error) {
	const op = "refdata.GLAccounts"
	rows, err := s.db.QueryContext(ctx, glAccountQuery)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []GLAccount
	for rows.Next() {
		var a GLAccount
		if err := rows.Scan(&a.Code, &a.Name, &a.Category, &a.Active); err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	return out, nil
}

// Departments returns the active departments ordered by code.
func (s *SQLSource) Departments(ctx context.Context) ([]Department, error) {
	const op = "refdata.Departments"
	rows, err := s.db.QueryContext(ctx, departmentQuery)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.Code, &d.Name, &d.Active); err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	return out, nil
}
