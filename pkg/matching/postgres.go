package matching

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/problem"
)

const (
	receiptColumns = `id, user_id, COALESCE(vendor_extracted, ''), date_extracted,
		amount_extracted_cents, match_status, COALESCE(matched_transaction_id, '')`

	transactionColumns = `id, user_id, description, original_description, transaction_date,
		amount_cents, COALESCE(gl_code, ''), COALESCE(department, ''), match_status,
		COALESCE(group_id, ''), COALESCE(matched_receipt_id, '')`

	groupColumns = `id, user_id, name, combined_amount_cents, display_date,
		transaction_count, match_status, COALESCE(matched_receipt_id, '')`

	matchColumns = `id, user_id, receipt_id, COALESCE(transaction_id, ''),
		COALESCE(transaction_group_id, ''), status, confidence_score, amount_score,
		date_score, vendor_score, COALESCE(match_reason, ''),
		COALESCE(matched_vendor_alias_id, ''), is_manual_match, created_at,
		confirmed_at, COALESCE(confirmed_by_user_id, '')`
)

// PostgresStore is the production matching store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*expense.Receipt, error) {
	var (
		r      expense.Receipt
		date   sql.NullTime
		amount sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.VendorExtracted, &date, &amount,
		&r.MatchStatus, &r.MatchedTransactionID); err != nil {
		return nil, err
	}
	if date.Valid {
		d := expense.DateOnly(date.Time)
		r.DateExtracted = &d
	}
	if amount.Valid {
		m := expense.Money(amount.Int64)
		r.AmountExtracted = &m
	}
	return &r, nil
}

func scanTransaction(row rowScanner) (*expense.Transaction, error) {
	var (
		t      expense.Transaction
		amount int64
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Description, &t.OriginalDescription,
		&t.TransactionDate, &amount, &t.GLCode, &t.Department, &t.MatchStatus,
		&t.GroupID, &t.MatchedReceiptID); err != nil {
		return nil, err
	}
	t.Amount = expense.Money(amount)
	t.TransactionDate = expense.DateOnly(t.TransactionDate)
	return &t, nil
}

func scanGroup(row rowScanner) (*expense.TransactionGroup, error) {
	var (
		g      expense.TransactionGroup
		amount int64
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Name, &amount, &g.DisplayDate,
		&g.TransactionCount, &g.MatchStatus, &g.MatchedReceiptID); err != nil {
		return nil, err
	}
	g.CombinedAmount = expense.Money(amount)
	g.DisplayDate = expense.DateOnly(g.DisplayDate)
	return &g, nil
}

func scanMatch(row rowScanner) (*expense.ReceiptTransactionMatch, error) {
	var (
		m           expense.ReceiptTransactionMatch
		confirmedAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.ReceiptID, &m.TransactionID,
		&m.TransactionGroupID, &m.Status, &m.ConfidenceScore, &m.AmountScore,
		&m.DateScore, &m.VendorScore, &m.MatchReason, &m.MatchedAliasID,
		&m.IsManualMatch, &m.CreatedAt, &confirmedAt, &m.ConfirmedByUserID); err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		m.ConfirmedAt = &t
	}
	return &m, nil
}

func (s *PostgresStore) GetReceipt(ctx context.Context, userID, receiptID string) (*expense.Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE id = $1 AND user_id = $2`,
		receiptID, userID)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.NotFound("matching.GetReceipt", "receipt", receiptID)
	}
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, "matching.GetReceipt", err)
	}
	return r, nil
}

func (s *PostgresStore) UnmatchedReceipts(ctx context.Context, userID string, receiptIDs []string) ([]*expense.Receipt, error) {
	const op = "matching.UnmatchedReceipts"
	query := `SELECT ` + receiptColumns + ` FROM receipts
		WHERE user_id = $1 AND match_status = 'unmatched'`
	args := []any{userID}
	if len(receiptIDs) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, pq.Array(receiptIDs))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []*expense.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	return out, nil
}

func (s *PostgresStore) CandidateTransactions(ctx context.Context, userID string, amount, tolerance expense.Money, from, to time.Time) ([]*expense.Transaction, error) {
	const op = "matching.CandidateTransactions"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = $1
		  AND match_status = 'unmatched'
		  AND group_id IS NULL
		  AND transaction_date BETWEEN $2 AND $3
		  AND ABS($4 - ABS(amount_cents)) <= $5
		ORDER BY transaction_date, id`,
		userID, from, to, int64(amount), int64(tolerance))
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []*expense.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	return out, nil
}

func (s *PostgresStore) CandidateGroups(ctx context.Context, userID string, from, to time.Time) ([]*expense.TransactionGroup, error) {
	const op = "matching.CandidateGroups"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM transaction_groups
		WHERE user_id = $1 AND match_status = 'unmatched'
		  AND display_date BETWEEN $2 AND $3
		ORDER BY display_date, id`,
		userID, from, to)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []*expense.TransactionGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	return out, nil
}

func (s *PostgresStore) GetTransaction(ctx context.Context, userID, transactionID string) (*expense.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND user_id = $2`,
		transactionID, userID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.NotFound("matching.GetTransaction", "transaction", transactionID)
	}
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, "matching.GetTransaction", err)
	}
	return t, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, userID, groupID string) (*expense.TransactionGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM transaction_groups WHERE id = $1 AND user_id = $2`,
		groupID, userID)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.NotFound("matching.GetGroup", "transaction_group", groupID)
	}
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, "matching.GetGroup", err)
	}
	return g, nil
}

func (s *PostgresStore) GetMatch(ctx context.Context, userID, matchID string) (*expense.ReceiptTransactionMatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM receipt_transaction_matches WHERE id = $1 AND user_id = $2`,
		matchID, userID)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.NotFound("matching.GetMatch", "match", matchID)
	}
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, "matching.GetMatch", err)
	}
	return m, nil
}

func (s *PostgresStore) ProposedMatches(ctx context.Context, userID string, minConfidence int) ([]*expense.ReceiptTransactionMatch, error) {
	const op = "matching.ProposedMatches"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+matchColumns+` FROM receipt_transaction_matches
		WHERE user_id = $1 AND status = 'proposed' AND confidence_score >= $2
		ORDER BY confidence_score DESC, id`,
		userID, minConfidence)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []*expense.ReceiptTransactionMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	return out, nil
}

// ApplyPass inserts every proposal inside one transaction. A bare ON
// CONFLICT DO NOTHING covers all the active-match partial unique
// indexes, so a proposal that lost a cross-pass race is silently
// dropped and its receipt keeps its current status.
func (s *PostgresStore) ApplyPass(ctx context.Context, userID string, proposals []*expense.ReceiptTransactionMatch) ([]*expense.ReceiptTransactionMatch, error) {
	const op = "matching.ApplyPass"
	if len(proposals) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer func() { _ = tx.Rollback() }()

	applied := make([]*expense.ReceiptTransactionMatch, 0, len(proposals))
	for _, m := range proposals {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO receipt_transaction_matches
				(id, user_id, receipt_id, transaction_id, transaction_group_id, status,
				 confidence_score, amount_score, date_score, vendor_score,
				 match_reason, matched_vendor_alias_id, is_manual_match, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT DO NOTHING`,
			m.ID, m.UserID, m.ReceiptID, nullable(m.TransactionID),
			nullable(m.TransactionGroupID), string(m.Status),
			m.ConfidenceScore, m.AmountScore, m.DateScore, m.VendorScore,
			nullable(m.MatchReason), nullable(m.MatchedAliasID), m.IsManualMatch, m.CreatedAt)
		if err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		if n == 0 {
			continue // lost to a concurrent pass
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE receipts SET match_status = 'proposed' WHERE id = $1 AND match_status = 'unmatched'`,
			m.ReceiptID); err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		if m.IsGroupMatch() {
			if _, err := tx.ExecContext(ctx,
				`UPDATE transaction_groups SET match_status = 'proposed' WHERE id = $1 AND match_status = 'unmatched'`,
				m.TransactionGroupID); err != nil {
				return nil, problem.Wrap(problem.KindUnavailable, op, err)
			}
		}
		applied = append(applied, m)
	}
	if err := tx.Commit(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	return applied, nil
}

func (s *PostgresStore) ConfirmMatch(ctx context.Context, m *expense.ReceiptTransactionMatch, confirmedBy string, at time.Time) error {
	const op = "matching.ConfirmMatch"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE receipt_transaction_matches
		SET status = 'confirmed', confirmed_at = $2, confirmed_by_user_id = $3
		WHERE id = $1 AND status = 'proposed'`,
		m.ID, at, confirmedBy)
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	} else if n == 0 {
		return problem.InvalidStatef(op, "match %s is no longer proposed", m.ID)
	}

	if err := confirmSides(ctx, tx, m); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	return nil
}

// confirmSides marks the receipt and its transaction or group Matched
// and links them to each other. Runs inside the caller's transaction.
func confirmSides(ctx context.Context, tx *sql.Tx, m *expense.ReceiptTransactionMatch) error {
	const op = "matching.ConfirmMatch"
	if m.IsGroupMatch() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE receipts SET match_status = 'matched' WHERE id = $1`,
			m.ReceiptID); err != nil {
			return problem.Wrap(problem.KindUnavailable, op, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE transaction_groups SET match_status = 'matched', matched_receipt_id = $2 WHERE id = $1`,
			m.TransactionGroupID, m.ReceiptID); err != nil {
			return problem.Wrap(problem.KindUnavailable, op, err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE receipts SET match_status = 'matched', matched_transaction_id = $2 WHERE id = $1`,
		m.ReceiptID, m.TransactionID); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET match_status = 'matched', matched_receipt_id = $2 WHERE id = $1`,
		m.TransactionID, m.ReceiptID); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	return nil
}

// BatchConfirm runs every confirmation in one transaction. RETURNING on
// the guarded update identifies the sides to transition without a
// second read; ids that no longer match a proposed row are skipped.
func (s *PostgresStore) BatchConfirm(ctx context.Context, userID string, matchIDs []string, confirmedBy string, at time.Time) ([]string, error) {
	const op = "matching.BatchConfirm"
	if len(matchIDs) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer func() { _ = tx.Rollback() }()

	var confirmed []string
	for _, id := range matchIDs {
		m := &expense.ReceiptTransactionMatch{ID: id}
		err := tx.QueryRowContext(ctx,
			`UPDATE receipt_transaction_matches
			SET status = 'confirmed', confirmed_at = $3, confirmed_by_user_id = $4
			WHERE id = $1 AND user_id = $2 AND status = 'proposed'
			RETURNING receipt_id, COALESCE(transaction_id, ''), COALESCE(transaction_group_id, '')`,
			id, userID, at, confirmedBy).
			Scan(&m.ReceiptID, &m.TransactionID, &m.TransactionGroupID)
		if errors.Is(err, sql.ErrNoRows) {
			continue // raced into another state; skip, keep the batch going
		}
		if err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		if err := confirmSides(ctx, tx, m); err != nil {
			return nil, err
		}
		confirmed = append(confirmed, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	return confirmed, nil
}

func (s *PostgresStore) RejectMatch(ctx context.Context, m *expense.ReceiptTransactionMatch) error {
	const op = "matching.RejectMatch"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE receipt_transaction_matches SET status = 'rejected' WHERE id = $1 AND status = 'proposed'`,
		m.ID)
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	} else if n == 0 {
		return problem.InvalidStatef(op, "match %s is no longer proposed", m.ID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE receipts SET match_status = 'unmatched', matched_transaction_id = NULL WHERE id = $1`,
		m.ReceiptID); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if m.IsGroupMatch() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE transaction_groups SET match_status = 'unmatched', matched_receipt_id = NULL WHERE id = $1`,
			m.TransactionGroupID); err != nil {
			return problem.Wrap(problem.KindUnavailable, op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	return nil
}

// InsertConfirmed runs the status guards before the insert so a raced
// manual match surfaces as InvalidState, with the unique-violation
// check as the net under true write skew.
func (s *PostgresStore) InsertConfirmed(ctx context.Context, m *expense.ReceiptTransactionMatch) error {
	const op = "matching.InsertConfirmed"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE receipts SET match_status = 'matched', matched_transaction_id = $2
		WHERE id = $1 AND match_status = 'unmatched'`,
		m.ReceiptID, nullable(m.TransactionID))
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	} else if n == 0 {
		return problem.InvalidStatef(op, "receipt %s is no longer unmatched", m.ReceiptID)
	}

	if m.IsGroupMatch() {
		res, err = tx.ExecContext(ctx,
			`UPDATE transaction_groups SET match_status = 'matched', matched_receipt_id = $2
			WHERE id = $1 AND match_status = 'unmatched'`,
			m.TransactionGroupID, m.ReceiptID)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE transactions SET match_status = 'matched', matched_receipt_id = $2
			WHERE id = $1 AND match_status = 'unmatched'`,
			m.TransactionID, m.ReceiptID)
	}
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	} else if n == 0 {
		return problem.InvalidStatef(op, "match target is no longer unmatched")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO receipt_transaction_matches
			(id, user_id, receipt_id, transaction_id, transaction_group_id, status,
			 confidence_score, amount_score, date_score, vendor_score,
			 match_reason, matched_vendor_alias_id, is_manual_match, created_at,
			 confirmed_at, confirmed_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		m.ID, m.UserID, m.ReceiptID, nullable(m.TransactionID),
		nullable(m.TransactionGroupID), string(m.Status),
		m.ConfidenceScore, m.AmountScore, m.DateScore, m.VendorScore,
		nullable(m.MatchReason), nullable(m.MatchedAliasID), m.IsManualMatch,
		m.CreatedAt, m.ConfirmedAt, nullable(m.ConfirmedByUserID)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return problem.InvalidStatef(op, "receipt %s or its target already has an active match", m.ReceiptID)
		}
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if err := tx.Commit(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	return nil
}

// nullable maps the struct convention of "" for absent optional fields
// onto SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
