package statements

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spendlens/core/pkg/database"
	"github.com/spendlens/core/pkg/expense"
)

// SQLiteStore backs the fingerprint store in lite mode. Timestamps are
// stored as RFC 3339 text.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func scanFingerprintLite(row *sql.Row) (*expense.StatementFingerprint, error) {
	var fp expense.StatementFingerprint
	var mapping []byte
	var sign, created string
	var lastUsed sql.NullString
	err := row.Scan(
		&fp.ID, &fp.UserID, &fp.HeaderHash, &fp.SourceName, &mapping,
		&fp.DateFormat, &sign, &fp.Confidence, &fp.HitCount, &created, &lastUsed,
	)
	if err != nil {
		return nil, err
	}
	fp.AmountSign = expense.AmountSign(sign)
	if err := json.Unmarshal(mapping, &fp.ColumnMapping); err != nil {
		return nil, fmt.Errorf("decode column mapping: %w", err)
	}
	fp.CreatedAt = database.ParseTime(created)
	if lastUsed.Valid {
		t := database.ParseTime(lastUsed.String)
		fp.LastUsedAt = &t
	}
	return &fp, nil
}

func (s *SQLiteStore) Lookup(ctx context.Context, userID, headerHash string) (*expense.StatementFingerprint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE statement_fingerprints
		SET hit_count = hit_count + 1, last_used_at = ?
		WHERE id = (
			SELECT id FROM statement_fingerprints
			WHERE header_hash = ? AND (user_id = ? OR user_id IS NULL)
			ORDER BY (user_id IS NULL)
			LIMIT 1
		)
		RETURNING `+fingerprintColumns,
		database.FormatTime(time.Now()), headerHash, userID)

	fp, err := scanFingerprintLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("statements: lookup: %w", err)
	}
	return fp, true, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, fp *expense.StatementFingerprint) error {
	if fp.ID == "" {
		fp.ID = uuid.NewString()
	}
	if fp.AmountSign == "" {
		fp.AmountSign = expense.NegativeCharges
	}
	mapping, err := json.Marshal(fp.ColumnMapping)
	if err != nil {
		return fmt.Errorf("statements: encode column mapping: %w", err)
	}

	query := `
		INSERT INTO statement_fingerprints (
			id, user_id, header_hash, source_name, column_mapping,
			date_format, amount_sign, confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, header_hash) WHERE user_id IS NOT NULL DO UPDATE SET
			source_name = excluded.source_name,
			column_mapping = excluded.column_mapping,
			date_format = excluded.date_format,
			amount_sign = excluded.amount_sign,
			confidence = excluded.confidence
		RETURNING id`
	if fp.UserID == "" {
		query = `
		INSERT INTO statement_fingerprints (
			id, user_id, header_hash, source_name, column_mapping,
			date_format, amount_sign, confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (header_hash) WHERE user_id IS NULL DO UPDATE SET
			source_name = excluded.source_name,
			column_mapping = excluded.column_mapping,
			date_format = excluded.date_format,
			amount_sign = excluded.amount_sign,
			confidence = excluded.confidence
		RETURNING id`
	}

	err = s.db.QueryRowContext(ctx, query,
		fp.ID, nullable(fp.UserID), fp.HeaderHash, fp.SourceName, mapping,
		fp.DateFormat, string(fp.AmountSign), fp.Confidence,
		database.FormatTime(time.Now()),
	).Scan(&fp.ID)
	if err != nil {
		return fmt.Errorf("statements: insert: %w", err)
	}
	return nil
}
