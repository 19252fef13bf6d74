package matching

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/problem"
)

func transactionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "description", "original_description", "transaction_date",
		"amount_cents", "gl_code", "department", "match_status", "group_id", "matched_receipt_id",
	})
}

func TestPostgresCandidateTransactionsFiltersInSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	from := day(2024, time.May, 3)
	to := day(2024, time.May, 17)
	mock.ExpectQuery(regexp.QuoteMeta(`AND ABS($4 - ABS(amount_cents)) <= $5`)).
		WithArgs("u1", from, to, int64(4217), int64(100)).
		WillReturnRows(transactionRows().
			AddRow("t1", "u1", "ACME COFFEE #0123", "ACME COFFEE #0123",
				day(2024, time.May, 10), int64(-4217), "", "", "unmatched", "", ""))

	store := NewPostgresStore(db)
	got, err := store.CandidateTransactions(context.Background(), "u1",
		expense.Cents(4217), expense.Cents(100), from, to)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, expense.Cents(-4217), got[0].Amount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetReceiptNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM receipts WHERE id = $1 AND user_id = $2`)).
		WithArgs("missing", "u1").
		WillReturnError(sql.ErrNoRows)

	store := NewPostgresStore(db)
	_, err = store.GetReceipt(context.Background(), "u1", "missing")
	assert.True(t, problem.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApplyPassCommitsOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO receipt_transaction_matches`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE receipts SET match_status = 'proposed' WHERE id = $1 AND match_status = 'unmatched'`)).
		WithArgs("r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	proposal := &expense.ReceiptTransactionMatch{
		ID: "m1", UserID: "u1", ReceiptID: "r1", TransactionID: "t1",
		Status: expense.MatchProposed, ConfidenceScore: 90, CreatedAt: time.Now().UTC(),
	}
	applied, err := store.ApplyPass(context.Background(), "u1",
		[]*expense.ReceiptTransactionMatch{proposal})
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Same(t, proposal, applied[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApplyPassDropsConflictedProposal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Zero rows from the insert means another pass already claimed the
	// receipt or transaction; no status update follows.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO receipt_transaction_matches`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	applied, err := store.ApplyPass(context.Background(), "u1",
		[]*expense.ReceiptTransactionMatch{{
			ID: "m1", UserID: "u1", ReceiptID: "r1", TransactionID: "t1",
			Status: expense.MatchProposed, CreatedAt: time.Now().UTC(),
		}})
	require.NoError(t, err)
	assert.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConfirmMatchRaceIsInvalidState(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'confirmed'`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	store := NewPostgresStore(db)
	err = store.ConfirmMatch(context.Background(),
		&expense.ReceiptTransactionMatch{ID: "m1", ReceiptID: "r1", TransactionID: "t1"},
		"u1", time.Now().UTC())
	require.Error(t, err)
	assert.Equal(t, problem.KindInvalidState, problem.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBatchConfirmSkipsRacedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`RETURNING receipt_id`)).
		WithArgs("m1", "u1", at, "u1").
		WillReturnRows(sqlmock.NewRows([]string{"receipt_id", "transaction_id", "transaction_group_id"}).
			AddRow("r1", "t1", ""))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE receipts SET match_status = 'matched', matched_transaction_id = $2`)).
		WithArgs("r1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE transactions SET match_status = 'matched', matched_receipt_id = $2`)).
		WithArgs("t1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`RETURNING receipt_id`)).
		WithArgs("m2", "u1", at, "u1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	confirmed, err := store.BatchConfirm(context.Background(), "u1",
		[]string{"m1", "m2"}, "u1", at)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, confirmed)
	require.NoError(t, mock.ExpectationsWereMet())
}
