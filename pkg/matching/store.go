package matching

import (
	"context"
	"time"

	"github.com/spendlens/core/pkg/expense"
)

// Store is the persistence boundary of the matching engine. Three
// implementations exist: PostgresStore for production, SQLiteStore for
// lite mode, and MemoryStore for tests.
//
// Mutating methods that span several rows (ApplyPass, ConfirmMatch,
// BatchConfirm, RejectMatch, InsertConfirmed) run inside one database
// transaction so a cancelled pass never leaves partial state behind.
type Store interface {
	// GetReceipt loads one receipt owned by the user.
	GetReceipt(ctx context.Context, userID, receiptID string) (*expense.Receipt, error)

	// UnmatchedReceipts returns the user's unmatched receipts, oldest
	// first. A non-empty receiptIDs narrows the set to those ids.
	UnmatchedReceipts(ctx context.Context, userID string, receiptIDs []string) ([]*expense.Receipt, error)

	// CandidateTransactions returns unmatched, ungrouped transactions
	// within the date window whose absolute amount is within tolerance
	// of amount. Filtering happens in the store so at most the viable
	// pool crosses the wire.
	CandidateTransactions(ctx context.Context, userID string, amount, tolerance expense.Money, from, to time.Time) ([]*expense.Transaction, error)

	// CandidateGroups returns unmatched transaction groups whose
	// display date falls inside the window. Amount filtering stays in
	// the engine because one fetch serves every receipt in a pass.
	CandidateGroups(ctx context.Context, userID string, from, to time.Time) ([]*expense.TransactionGroup, error)

	GetTransaction(ctx context.Context, userID, transactionID string) (*expense.Transaction, error)
	GetGroup(ctx context.Context, userID, groupID string) (*expense.TransactionGroup, error)
	GetMatch(ctx context.Context, userID, matchID string) (*expense.ReceiptTransactionMatch, error)

	// ProposedMatches returns the user's proposed matches with
	// confidence_score >= minConfidence, highest confidence first.
	ProposedMatches(ctx context.Context, userID string, minConfidence int) ([]*expense.ReceiptTransactionMatch, error)

	// ApplyPass commits one auto-match pass: inserts every proposal and
	// flips its receipt (and group, for group proposals) to Proposed.
	// Proposals that lose a cross-pass race on the active-match
	// uniqueness constraints are dropped, not errors; the returned
	// slice holds the ones that landed.
	ApplyPass(ctx context.Context, userID string, proposals []*expense.ReceiptTransactionMatch) ([]*expense.ReceiptTransactionMatch, error)

	// ConfirmMatch transitions a proposed match to Confirmed and marks
	// the receipt and its transaction or group Matched. Returns an
	// InvalidState problem when the match is no longer proposed.
	ConfirmMatch(ctx context.Context, m *expense.ReceiptTransactionMatch, confirmedBy string, at time.Time) error

	// BatchConfirm confirms the given proposed matches in a single
	// transaction and returns the ids that transitioned. Matches that
	// are no longer proposed are skipped, never aborting the batch.
	BatchConfirm(ctx context.Context, userID string, matchIDs []string, confirmedBy string, at time.Time) ([]string, error)

	// RejectMatch transitions a proposed match to Rejected and returns
	// the receipt (and group, if any) to Unmatched. Transactions are
	// untouched because they were never marked at proposal time.
	RejectMatch(ctx context.Context, m *expense.ReceiptTransactionMatch) error

	// InsertConfirmed records a manual match: inserts the row already
	// in Confirmed state and marks both sides Matched. Fails with an
	// InvalidState problem when either side is no longer unmatched.
	InsertConfirmed(ctx context.Context, m *expense.ReceiptTransactionMatch) error
}
