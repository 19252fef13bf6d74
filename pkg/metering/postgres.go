package metering

import (
	"context"
	"database/sql"

	"github.com/spendlens/core/pkg/problem"
)

// PostgresStore is the production usage log.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	const op = "metering.Insert"
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tier_usage_log
			(user_id, operation, tier, cache_hit, latency_ms, cost_usd, model, input_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		rec.UserID, rec.Operation, rec.Tier, rec.CacheHit, rec.LatencyMS,
		rec.CostUSD, nullable(rec.Model), nullable(rec.InputHash), rec.CreatedAt).
		Scan(&rec.ID)
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	return nil
}

func (s *PostgresStore) Aggregate(ctx context.Context, userID string, p Period, operation string) (*Aggregate, error) {
	const op = "metering.Aggregate"
	agg := &Aggregate{
		TierCounts:  make(map[int]int64),
		ByOperation: make(map[string]int64),
	}

	query := `SELECT tier, COUNT(*), SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END)
		FROM tier_usage_log
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3`
	args := []any{userID, p.Start, p.End}
	if operation != "" {
		query += ` AND operation = $4`
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
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3`
	args = []any{userID, p.Start, p.End}
	if operation != "" {
		query += ` AND operation = $4`
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

// TierThreeByInput joins the log against the normalization cache so a
// candidate carries its raw description while the cache still holds it.
func (s *PostgresStore) TierThreeByInput(ctx context.Context, userID string, p Period, minCount int64) ([]InputCount, error) {
	const op = "metering.TierThreeByInput"
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.input_hash, COALESCE(MAX(c.raw_text), ''), COUNT(*)
		FROM tier_usage_log l
		LEFT JOIN normalized_text_cache c ON c.raw_hash = l.input_hash
		WHERE l.user_id = $1 AND l.tier = 3
		  AND l.created_at >= $2 AND l.created_at < $3
		  AND l.input_hash IS NOT NULL AND l.input_hash <> ''
		GROUP BY l.input_hash
		HAVING COUNT(*) >= $4
		ORDER BY COUNT(*) DESC, l.input_hash`,
		userID, p.Start, p.End, minCount)
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

// nullable maps "" onto SQL NULL for the optional text columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
