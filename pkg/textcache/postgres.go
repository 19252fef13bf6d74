package textcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore is the durable Postgres-backed cache.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Lookup(ctx context.Context, raw string) (string, bool, error) {
	// Counter bump and read happen in one round trip.
	row := s.db.QueryRowContext(ctx, `
		UPDATE normalized_text_cache
		SET use_count = use_count + 1, last_used_at = NOW()
		WHERE raw_hash = $1
		RETURNING normalized_text
	`, Key(raw))

	var normalized string
	err := row.Scan(&normalized)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("textcache: lookup: %w", err)
	}
	return normalized, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, raw, normalized string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO normalized_text_cache (raw_hash, raw_text, normalized_text)
		VALUES ($1, $2, $3)
		ON CONFLICT (raw_hash) DO UPDATE SET
			normalized_text = EXCLUDED.normalized_text,
			last_used_at = NOW()
	`, Key(raw), raw, normalized)
	if err != nil {
		return fmt.Errorf("textcache: save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(use_count), 0), MIN(created_at)
		FROM normalized_text_cache
	`)

	var st Stats
	var oldest sql.NullTime
	if err := row.Scan(&st.Entries, &st.TotalUses, &oldest); err != nil {
		return Stats{}, fmt.Errorf("textcache: stats: %w", err)
	}
	if oldest.Valid {
		st.OldestEntry = &oldest.Time
	}
	return st, nil
}
