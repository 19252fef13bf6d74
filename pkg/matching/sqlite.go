package matching

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/spendlens/core/pkg/database"
	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/problem"
)

// SQLiteStore is the lite-mode matching store. Dates live in TEXT
// columns as YYYY-MM-DD and timestamps as RFC 3339, so range scans
// stay correct under lexicographic comparison.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open lite-mode handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func scanReceiptLite(row rowScanner) (*expense.Receipt, error) {
	var (
		r      expense.Receipt
		date   sql.NullString
		amount sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.UserID, &r.VendorExtracted, &date, &amount,
		&r.MatchStatus, &r.MatchedTransactionID); err != nil {
		return nil, err
	}
	if date.Valid && date.String != "" {
		d := database.ParseDate(date.String)
		r.DateExtracted = &d
	}
	if amount.Valid {
		m := expense.Money(amount.Int64)
		r.AmountExtracted = &m
	}
	return &r, nil
}

func scanTransactionLite(row rowScanner) (*expense.Transaction, error) {
	var (
		t      expense.Transaction
		date   string
		amount int64
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Description, &t.OriginalDescription,
		&date, &amount, &t.GLCode, &t.Department, &t.MatchStatus,
		&t.GroupID, &t.MatchedReceiptID); err != nil {
		return nil, err
	}
	t.TransactionDate = database.ParseDate(date)
	t.Amount = expense.Money(amount)
	return &t, nil
}

func scanGroupLite(row rowScanner) (*expense.TransactionGroup, error) {
	var (
		g      expense.TransactionGroup
		date   string
		amount int64
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Name, &amount, &date,
		&g.TransactionCount, &g.MatchStatus, &g.MatchedReceiptID); err != nil {
		return nil, err
	}
	g.DisplayDate = database.ParseDate(date)
	g.CombinedAmount = expense.Money(amount)
	return &g, nil
}

func scanMatchLite(row rowScanner) (*expense.ReceiptTransactionMatch, error) {
	var (
		m           expense.ReceiptTransactionMatch
		createdAt   string
		confirmedAt sql.NullString
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.ReceiptID, &m.TransactionID,
		&m.TransactionGroupID, &m.Status, &m.ConfidenceScore, &m.AmountScore,
		&m.DateScore, &m.VendorScore, &m.MatchReason, &m.MatchedAliasID,
		&m.IsManualMatch, &createdAt, &confirmedAt, &m.ConfirmedByUserID); err != nil {
		return nil, err
	}
	m.CreatedAt = database.ParseTime(createdAt)
	if confirmedAt.Valid && confirmedAt.String != "" {
		t := database.ParseTime(confirmedAt.String)
		m.ConfirmedAt = &t
	}
	return &m, nil
}

func (s *SQLiteStore) GetReceipt(ctx context.Context, userID, receiptID string) (*expense.Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE id = ? AND user_id = ?`,
		receiptID, userID)
	r, err := scanReceiptLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.NotFound("matching.GetReceipt", "receipt", receiptID)
	}
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, "matching.GetReceipt", err)
	}
	return r, nil
}

func (s *SQLiteStore) UnmatchedReceipts(ctx context.Context, userID string, receiptIDs []string) ([]*expense.Receipt, error) {
	const op = "matching.UnmatchedReceipts"
	query := `SELECT ` + receiptColumns + ` FROM receipts
		WHERE user_id = ? AND match_status = 'unmatched'`
	args := []any{userID}
	if len(receiptIDs) > 0 {
		query += ` AND id IN (?` + strings.Repeat(",?", len(receiptIDs)-1) + `)`
		for _, id := range receiptIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []*expense.Receipt
	for rows.Next() {
		r, err := scanReceiptLite(rows)
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

func (s *SQLiteStore) CandidateTransactions(ctx context.Context, userID string, amount, tolerance expense.Money, from, to time.Time) ([]*expense.Transaction, error) {
	const op = "matching.CandidateTransactions"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE user_id = ?
		  AND match_status = 'unmatched'
		  AND group_id IS NULL
		  AND transaction_date BETWEEN ? AND ?
		  AND ABS(? - ABS(amount_cents)) <= ?
		ORDER BY transaction_date, id`,
		userID, database.FormatDate(from), database.FormatDate(to),
		int64(amount), int64(tolerance))
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []*expense.Transaction
	for rows.Next() {
		t, err := scanTransactionLite(rows)
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

func (s *SQLiteStore) CandidateGroups(ctx context.Context, userID string, from, to time.Time) ([]*expense.TransactionGroup, error) {
	const op = "matching.CandidateGroups"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM transaction_groups
		WHERE user_id = ? AND match_status = 'unmatched'
		  AND display_date BETWEEN ? AND ?
		ORDER BY display_date, id`,
		userID, database.FormatDate(from), database.FormatDate(to))
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []*expense.TransactionGroup
	for rows.Next() {
		g, err := scanGroupLite(rows)
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

func (s *SQLiteStore) GetTransaction(ctx context.Context, userID, transactionID string) (*expense.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND user_id = ?`,
		transactionID, userID)
	t, err := scanTransactionLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.NotFound("matching.GetTransaction", "transaction", transactionID)
	}
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, "matching.GetTransaction", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetGroup(ctx context.Context, userID, groupID string) (*expense.TransactionGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM transaction_groups WHERE id = ? AND user_id = ?`,
		groupID, userID)
	g, err := scanGroupLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.NotFound("matching.GetGroup", "transaction_group", groupID)
	}
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, "matching.GetGroup", err)
	}
	return g, nil
}

func (s *SQLiteStore) GetMatch(ctx context.Context, userID, matchID string) (*expense.ReceiptTransactionMatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM receipt_transaction_matches WHERE id = ? AND user_id = ?`,
		matchID, userID)
	m, err := scanMatchLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, problem.NotFound("matching.GetMatch", "match", matchID)
	}
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, "matching.GetMatch", err)
	}
	return m, nil
}

func (s *SQLiteStore) ProposedMatches(ctx context.Context, userID string, minConfidence int) ([]*expense.ReceiptTransactionMatch, error) {
	const op = "matching.ProposedMatches"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+matchColumns+` FROM receipt_transaction_matches
		WHERE user_id = ? AND status = 'proposed' AND confidence_score >= ?
		ORDER BY confidence_score DESC, id`,
		userID, minConfidence)
	if err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer rows.Close()

	var out []*expense.ReceiptTransactionMatch
	for rows.Next() {
		m, err := scanMatchLite(rows)
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

// ApplyPass mirrors the Postgres pass with INSERT OR IGNORE carrying
// the race-loss semantics.
func (s *SQLiteStore) ApplyPass(ctx context.Context, userID string, proposals []*expense.ReceiptTransactionMatch) ([]*expense.ReceiptTransactionMatch, error) {
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
			`INSERT OR IGNORE INTO receipt_transaction_matches
				(id, user_id, receipt_id, transaction_id, transaction_group_id, status,
				 confidence_score, amount_score, date_score, vendor_score,
				 match_reason, matched_vendor_alias_id, is_manual_match, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.UserID, m.ReceiptID, nullable(m.TransactionID),
			nullable(m.TransactionGroupID), string(m.Status),
			m.ConfidenceScore, m.AmountScore, m.DateScore, m.VendorScore,
			nullable(m.MatchReason), nullable(m.MatchedAliasID), m.IsManualMatch,
			database.FormatTime(m.CreatedAt))
		if err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		if n == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE receipts SET match_status = 'proposed' WHERE id = ? AND match_status = 'unmatched'`,
			m.ReceiptID); err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		if m.IsGroupMatch() {
			if _, err := tx.ExecContext(ctx,
				`UPDATE transaction_groups SET match_status = 'proposed' WHERE id = ? AND match_status = 'unmatched'`,
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

func (s *SQLiteStore) ConfirmMatch(ctx context.Context, m *expense.ReceiptTransactionMatch, confirmedBy string, at time.Time) error {
	const op = "matching.ConfirmMatch"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE receipt_transaction_matches
		SET status = 'confirmed', confirmed_at = ?, confirmed_by_user_id = ?
		WHERE id = ? AND status = 'proposed'`,
		database.FormatTime(at), confirmedBy, m.ID)
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	} else if n == 0 {
		return problem.InvalidStatef(op, "match %s is no longer proposed", m.ID)
	}

	if err := confirmSidesLite(ctx, tx, m); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	return nil
}

func confirmSidesLite(ctx context.Context, tx *sql.Tx, m *expense.ReceiptTransactionMatch) error {
	const op = "matching.ConfirmMatch"
	if m.IsGroupMatch() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE receipts SET match_status = 'matched' WHERE id = ?`,
			m.ReceiptID); err != nil {
			return problem.Wrap(problem.KindUnavailable, op, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE transaction_groups SET match_status = 'matched', matched_receipt_id = ? WHERE id = ?`,
			m.ReceiptID, m.TransactionGroupID); err != nil {
			return problem.Wrap(problem.KindUnavailable, op, err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE receipts SET match_status = 'matched', matched_transaction_id = ? WHERE id = ?`,
		m.TransactionID, m.ReceiptID); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE transactions SET match_status = 'matched', matched_receipt_id = ? WHERE id = ?`,
		m.ReceiptID, m.TransactionID); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	return nil
}

// BatchConfirm reads each row before the guarded update because the
// driver has no UPDATE RETURNING; the write lock held by the
// transaction makes the pair atomic.
func (s *SQLiteStore) BatchConfirm(ctx context.Context, userID string, matchIDs []string, confirmedBy string, at time.Time) ([]string, error) {
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
			`SELECT receipt_id, COALESCE(transaction_id, ''), COALESCE(transaction_group_id, '')
			FROM receipt_transaction_matches
			WHERE id = ? AND user_id = ? AND status = 'proposed'`,
			id, userID).
			Scan(&m.ReceiptID, &m.TransactionID, &m.TransactionGroupID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE receipt_transaction_matches
			SET status = 'confirmed', confirmed_at = ?, confirmed_by_user_id = ?
			WHERE id = ? AND status = 'proposed'`,
			database.FormatTime(at), confirmedBy, id); err != nil {
			return nil, problem.Wrap(problem.KindUnavailable, op, err)
		}
		if err := confirmSidesLite(ctx, tx, m); err != nil {
			return nil, err
		}
		confirmed = append(confirmed, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, problem.Wrap(problem.KindUnavailable, op, err)
	}
	return confirmed, nil
}

func (s *SQLiteStore) RejectMatch(ctx context.Context, m *expense.ReceiptTransactionMatch) error {
	const op = "matching.RejectMatch"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE receipt_transaction_matches SET status = 'rejected' WHERE id = ? AND status = 'proposed'`,
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
		`UPDATE receipts SET match_status = 'unmatched', matched_transaction_id = NULL WHERE id = ?`,
		m.ReceiptID); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if m.IsGroupMatch() {
		if _, err := tx.ExecContext(ctx,
			`UPDATE transaction_groups SET match_status = 'unmatched', matched_receipt_id = NULL WHERE id = ?`,
			m.TransactionGroupID); err != nil {
			return problem.Wrap(problem.KindUnavailable, op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	return nil
}

func (s *SQLiteStore) InsertConfirmed(ctx context.Context, m *expense.ReceiptTransactionMatch) error {
	const op = "matching.InsertConfirmed"
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE receipts SET match_status = 'matched', matched_transaction_id = ?
		WHERE id = ? AND match_status = 'unmatched'`,
		nullable(m.TransactionID), m.ReceiptID)
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
			`UPDATE transaction_groups SET match_status = 'matched', matched_receipt_id = ?
			WHERE id = ? AND match_status = 'unmatched'`,
			m.ReceiptID, m.TransactionGroupID)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE transactions SET match_status = 'matched', matched_receipt_id = ?
			WHERE id = ? AND match_status = 'unmatched'`,
			m.ReceiptID, m.TransactionID)
	}
	if err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	} else if n == 0 {
		return problem.InvalidStatef(op, "match target is no longer unmatched")
	}

	var confirmedAt any
	if m.ConfirmedAt != nil {
		confirmedAt = database.FormatTime(*m.ConfirmedAt)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO receipt_transaction_matches
			(id, user_id, receipt_id, transaction_id, transaction_group_id, status,
			 confidence_score, amount_score, date_score, vendor_score,
			 match_reason, matched_vendor_alias_id, is_manual_match, created_at,
			 confirmed_at, confirmed_by_user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.ReceiptID, nullable(m.TransactionID),
		nullable(m.TransactionGroupID), string(m.Status),
		m.ConfidenceScore, m.AmountScore, m.DateScore, m.VendorScore,
		nullable(m.MatchReason), nullable(m.MatchedAliasID), m.IsManualMatch,
		database.FormatTime(m.CreatedAt), confirmedAt, nullable(m.ConfirmedByUserID)); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	if err := tx.Commit(); err != nil {
		return problem.Wrap(problem.KindUnavailable, op, err)
	}
	return nil
}
