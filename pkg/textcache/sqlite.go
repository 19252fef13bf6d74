package textcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spendlens/core/pkg/database"
)

// SQLiteStore backs the cache in lite mode.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Lookup(ctx context.Context, raw string) (string, bool, error) {
	now := database.FormatTime(time.Now())
	row := s.db.QueryRowContext(ctx, `
		UPDATE normalized_text_cache
		SET use_count = use_count + 1, last_used_at = ?
		WHERE raw_hash = ?
		RETURNING normalized_text
	`, now, Key(raw))

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

func (s *SQLiteStore) Save(ctx context.Context, raw, normalized string) error {
	now := database.FormatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO normalized_text_cache (raw_hash, raw_text, normalized_text, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (raw_hash) DO UPDATE SET
			normalized_text = excluded.normalized_text,
			last_used_at = excluded.last_used_at
	`, Key(raw), raw, normalized, now, now)
	if err != nil {
		return fmt.Errorf("textcache: save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(use_count), 0), COALESCE(MIN(created_at), '')
		FROM normalized_text_cache
	`)

	var st Stats
	var oldest string
	if err := row.Scan(&st.Entries, &st.TotalUses, &oldest); err != nil {
		return Stats{}, fmt.Errorf("textcache: stats: %w", err)
	}
	if t := database.ParseTime(oldest); !t.IsZero() {
		st.OldestEntry = &t
	}
	return st, nil
}
