package embeddings

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PostgresStore persists embeddings in a pgvector-typed table.
type PostgresStore struct {
	db   *sql.DB
	dims int
}

func NewPostgresStore(db *sql.DB, dims int) *PostgresStore {
	return &PostgresStore{db: db, dims: dims}
}

// Init creates the pgvector extension and embedding table. It lives
// here rather than with the base schema because the extension is
// optional: deployments without it run tier 2 disabled.
func (s *PostgresStore) Init(ctx context.Context) error {
	if s.dims <= 0 || s.dims > 16000 {
		return fmt.Errorf("embeddings: invalid dimension %d", s.dims)
	}

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("embeddings: create extension: %w", err)
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS text_embeddings (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			transaction_id TEXT,
			source_text TEXT NOT NULL,
			vendor_normalized TEXT,
			embedding vector(%d) NOT NULL,
			gl_code TEXT,
			department TEXT,
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_matched_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_text_embeddings_user ON text_embeddings(user_id);
	`, s.dims)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("embeddings: init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	if len(rec.Vector) != s.dims {
		return fmt.Errorf("embeddings: vector has %d dims, store expects %d", len(rec.Vector), s.dims)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO text_embeddings (id, user_id, transaction_id, source_text, vendor_normalized, embedding, gl_code, department, verified)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			source_text = EXCLUDED.source_text,
			vendor_normalized = EXCLUDED.vendor_normalized,
			embedding = EXCLUDED.embedding,
			gl_code = EXCLUDED.gl_code,
			department = EXCLUDED.department,
			verified = EXCLUDED.verified
	`, rec.ID, rec.UserID, nullable(rec.TransactionID), rec.SourceText,
		nullable(rec.VendorNormalized), formatVector(rec.Vector),
		nullable(rec.GLCode), nullable(rec.Department), rec.Verified)
	if err != nil {
		return fmt.Errorf("embeddings: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchTopK(ctx context.Context, userID string, vec Vector, k int) ([]Match, error) {
	if len(vec) != s.dims {
		return nil, fmt.Errorf("embeddings: vector has %d dims, store expects %d", len(vec), s.dims)
	}
	if k <= 0 {
		k = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_text, COALESCE(gl_code, ''), COALESCE(department, ''), verified,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM text_embeddings
		WHERE user_id = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3
	`, formatVector(vec), userID, k)
	if err != nil {
		return nil, fmt.Errorf("embeddings: search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.SourceText, &m.GLCode, &m.Department, &m.Verified, &m.Similarity); err != nil {
			return nil, fmt.Errorf("embeddings: scan: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("embeddings: rows: %w", err)
	}
	return matches, nil
}

func (s *PostgresStore) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE text_embeddings SET last_matched_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("embeddings: touch: %w", err)
	}
	return nil
}

func (s *PostgresStore) Counts(ctx context.Context) (verified, unverified int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN verified THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN verified THEN 0 ELSE 1 END), 0)
		FROM text_embeddings
	`).Scan(&verified, &unverified)
	if err != nil {
		return 0, 0, fmt.Errorf("embeddings: counts: %w", err)
	}
	return verified, unverified, nil
}

func (s *PostgresStore) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM text_embeddings
		WHERE verified = FALSE AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("embeddings: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("embeddings: purge rows affected: %w", err)
	}
	return n, nil
}

// formatVector renders a pgvector literal: "[0.1,0.2,...]".
func formatVector(v Vector) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
