package statements

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spendlens/core/pkg/expense"
)

// fingerprintColumns is the scan list shared by every single-row query.
const fingerprintColumns = `id, COALESCE(user_id, ''), header_hash, source_name, column_mapping,
	date_format, amount_sign, confidence, hit_count, created_at, last_used_at`

// PostgresStore is the durable fingerprint store. The user-or-system
// priority pick and the counter bump run inside Postgres in one
// statement.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanFingerprint(row *sql.Row) (*expense.StatementFingerprint, error) {
	var fp expense.StatementFingerprint
	var mapping []byte
	var sign string
	var lastUsed sql.NullTime
	err := row.Scan(
		&fp.ID, &fp.UserID, &fp.HeaderHash, &fp.SourceName, &mapping,
		&fp.DateFormat, &sign, &fp.Confidence, &fp.HitCount, &fp.CreatedAt, &lastUsed,
	)
	if err != nil {
		return nil, err
	}
	fp.AmountSign = expense.AmountSign(sign)
	if err := json.Unmarshal(mapping, &fp.ColumnMapping); err != nil {
		return nil, fmt.Errorf("decode column mapping: %w", err)
	}
	if lastUsed.Valid {
		fp.LastUsedAt = &lastUsed.Time
	}
	return &fp, nil
}

func (s *PostgresStore) Lookup(ctx context.Context, userID, headerHash string) (*expense.StatementFingerprint, bool, error) {
	// user_id IS NULL sorts last, so the user's own row wins over the
	// system fallback.
	row := s.db.QueryRowContext(ctx, `
		UPDATE statement_fingerprints
		SET hit_count = hit_count + 1, last_used_at = NOW()
		WHERE id = (
			SELECT id FROM statement_fingerprints
			WHERE header_hash = $2 AND (user_id = $1 OR user_id IS NULL)
			ORDER BY (user_id IS NULL)
			LIMIT 1
		)
		RETURNING `+fingerprintColumns,
		userID, headerHash)

	fp, err := scanFingerprint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("statements: lookup: %w", err)
	}
	return fp, true, nil
}

func (s *PostgresStore) Insert(ctx context.Context, fp *expense.StatementFingerprint) error {
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

	// The user and system scopes sit behind separate partial unique
	// indexes, so each needs its own conflict target.
	query := `
		INSERT INTO statement_fingerprints (
			id, user_id, header_hash, source_name, column_mapping,
			date_format, amount_sign, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, header_hash) WHERE user_id IS NOT NULL DO UPDATE SET
			source_name = EXCLUDED.source_name,
			column_mapping = EXCLUDED.column_mapping,
			date_format = EXCLUDED.date_format,
			amount_sign = EXCLUDED.amount_sign,
			confidence = EXCLUDED.confidence
		RETURNING id`
	if fp.UserID == "" {
		query = `
		INSERT INTO statement_fingerprints (
			id, user_id, header_hash, source_name, column_mapping,
			date_format, amount_sign, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (header_hash) WHERE user_id IS NULL DO UPDATE SET
			source_name = EXCLUDED.source_name,
			column_mapping = EXCLUDED.column_mapping,
			date_format = EXCLUDED.date_format,
			amount_sign = EXCLUDED.amount_sign,
			confidence = EXCLUDED.confidence
		RETURNING id`
	}

	err = s.db.QueryRowContext(ctx, query,
		fp.ID, nullable(fp.UserID), fp.HeaderHash, fp.SourceName, mapping,
		fp.DateFormat, string(fp.AmountSign), fp.Confidence,
	).Scan(&fp.ID)
	if err != nil {
		return fmt.Errorf("statements: insert: %w", err)
	}
	return nil
}

// nullable maps an empty user ID to NULL, the system-wide scope.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
