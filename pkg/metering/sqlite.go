package metering

import (
	"context"
	"database/sql"

	"github.com/spendlens/core/pkg/database"
	"github.com/spendlens/core/pkg/problem"
)

// SQLiteStore is the lite-mode usage log. Timestamps live in TEXT
// columns as RFC 3339, so range scans stay correct under lexicographic
// comparison.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open lite-mode handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *Record) error {
	const op = "metering.Insert"
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tier_usage_log
			(user_id, operation, tier, cache_hit, latency_ms, cost_usd, model, input_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Operation, rec.Tier, rec.CacheHit, rec.LatencyMS,
		rec.CostUSD, nullable(rec.Model), nullable(rec.InputHash),
		database.FormatTime(rec.CreatedAt))
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	rec.ID = id
	return nil
}

func (s *SQLiteStore) Aggregate(ctx context.Context, userID string, p Period, operation string) (*Aggregate, error) {
	const op = "metering.Aggregate"
	agg := &Aggregate{
		TierCounts:  make(map[int]int64),
		ByOperation: make(map[string]int64),
	}
	from, to := database.FormatTime(p.Start), database.FormatTime(p.End)

	query := `SELECT tier, COUNT(*), SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END)
		FROM tier_usage_log
		WHERE user_id = ? AND created_at >= ? AND created_at < ?`
	args := []any{userID, from, to}
	if operation != "" {
		query += ` AND operation = ?`
		args = append(args, operation)
	}
	query += ` GROUP BY tier`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tier        int
			count, hits int64
		)
		if err := rows.Scan(&tier, &count, &hits); err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		agg.TierCounts[tier] = count
		agg.Total += count
		agg.CacheHits += hits
	}
	if err := rows.Err(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}

	query = `SELECT operation, COUNT(*)
		FROM tier_usage_log
		WHERE user_id = ? AND created_at >= ? AND created_at < ?`
	args = []any{userID, from, to}
	if operation != "" {
		query += ` AND operation = ?`
		args = append(args, operation)
	}
	query += ` GROUP BY operation`

	rows, err = s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name  string
			count int64
		)
		if err := rows.Scan(&name, &count); err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		agg.ByOperation[name] = count
	}
	if err := rows.Err(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	return agg, nil
}

func (s *SQLiteStore) TierThreeByInput(ctx context.Context, userID string, p Period, minCount int64) ([]InputCount, error) {
	const op = "metering.TierThreeByInput"
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.input_hash, COALESCE(MAX(c.raw_text), ''), COUNT(*)
		FROM tier_usage_log l
		LEFT JOIN normalized_text_cache c ON c.raw_hash = l.input_hash
		WHERE l.user_id = ? AND l.tier = 3
		  AND l.created_at >= ? AND l.created_at < ?
		  AND l.input_hash IS NOT NULL AND l.input_hash <> ''
		GROUP BY l.input_hash
		HAVING COUNT(*) >= ?
		ORDER BY COUNT(*) DESC, l.input_hash`,
		userID, database.FormatTime(p.Start), database.FormatTime(p.End), minCount)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []InputCount
	for rows.Next() {
		var c InputCount
		if err := rows.Scan(&c.InputHash, &c.Description, &c.Count); err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	return out, nil
}
