package matching

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendlens/core/pkg/aliases"
	"github.com/spendlens/core/pkg/config"
	"github.com/spendlens/core/pkg/expense"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(t time.Time) *time.Time { return &t }

func cents(v int64) *expense.Money {
	m := expense.Cents(v)
	return &m
}

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, *aliases.MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	aliasStore := aliases.NewMemoryStore()
	return NewEngine(store, aliasStore, config.DefaultTuning()), store, aliasStore
}

func unmatchedReceipt(id, vendor string, amountCents int64, on time.Time) *expense.Receipt {
	return &expense.Receipt{
		ID:              id,
		UserID:          "u1",
		VendorExtracted: vendor,
		DateExtracted:   datePtr(on),
		AmountExtracted: cents(amountCents),
		MatchStatus:     expense.StatusUnmatched,
	}
}

func unmatchedTransaction(id, description string, amountCents int64, on time.Time) *expense.Transaction {
	return &expense.Transaction{
		ID:                  id,
		UserID:              "u1",
		Description:         description,
		OriginalDescription: description,
		TransactionDate:     on,
		Amount:              expense.Cents(amountCents),
		MatchStatus:         expense.StatusUnmatched,
	}
}

func TestRunAutoMatchPerfectScore(t *testing.T) {
	e, store, aliasStore := newTestEngine(t)
	ctx := context.Background()

	alias := &expense.VendorAlias{CanonicalName: "ACME COFFEE", AliasPattern: "ACME COFFEE"}
	require.NoError(t, aliasStore.AddOrUpdate(ctx, alias))

	store.PutReceipt(unmatchedReceipt("r1", "Acme Coffee", 4217, day(2024, time.May, 10)))
	store.PutTransaction(unmatchedTransaction("t1", "ACME COFFEE #0123", -4217, day(2024, time.May, 10)))

	res, err := e.RunAutoMatch(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Proposed)
	assert.Zero(t, res.Ambiguous)
	assert.Equal(t, 1, res.TransactionMatchCount)
	assert.Zero(t, res.GroupMatchCount)

	require.Len(t, res.Proposals, 1)
	m := res.Proposals[0]
	assert.Equal(t, 100, m.ConfidenceScore)
	assert.Equal(t, 40, m.AmountScore)
	assert.Equal(t, 35, m.DateScore)
	assert.Equal(t, 25, m.VendorScore)
	assert.Equal(t, "t1", m.TransactionID)
	assert.Equal(t, alias.ID, m.MatchedAliasID)
	assert.Equal(t, "amount 40/40, date 35/35, vendor 25/25", m.MatchReason)
	assert.Equal(t, expense.MatchProposed, m.Status)
	assert.False(t, m.IsManualMatch)

	r, err := store.GetReceipt(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, expense.StatusProposed, r.MatchStatus)

	// Transactions are claimed only at confirmation time.
	txn, err := store.GetTransaction(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, expense.StatusUnmatched, txn.MatchStatus)
}

func TestRunAutoMatchBelowThreshold(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	// 20 (near amount) + 30 (one day) + 15 (fuzzy vendor) = 65 < 70.
	store.PutReceipt(unmatchedReceipt("r1", "Acme Cofee", 4250, day(2024, time.May, 10)))
	store.PutTransaction(unmatchedTransaction("t1", "ACME COFFEE #0123", -4217, day(2024, time.May, 11)))

	res, err := e.RunAutoMatch(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Proposed)
	assert.Zero(t, res.Ambiguous)
	assert.Empty(t, res.Proposals)

	r, err := store.GetReceipt(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, expense.StatusUnmatched, r.MatchStatus)
}

func TestRunAutoMatchAmbiguousGap(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	// Candidates score 90 and 85; the gap of 5 is within AMBIGUOUS_GAP,
	// so the receipt is flagged and nothing is proposed.
	store.PutReceipt(unmatchedReceipt("r1", "Acme Store", 5000, day(2024, time.June, 10)))
	store.PutTransaction(unmatchedTransaction("t1", "ACME STORE 44", -5000, day(2024, time.June, 10)))
	store.PutTransaction(unmatchedTransaction("t2", "ACME STORE 45", -5000, day(2024, time.June, 11)))

	res, err := e.RunAutoMatch(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Ambiguous)
	assert.Zero(t, res.Proposed)
	assert.Empty(t, res.Proposals)

	r, err := store.GetReceipt(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, expense.StatusUnmatched, r.MatchStatus)
}

func TestRunAutoMatchClearWinner(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	// 90 vs 80: the gap of 10 clears AMBIGUOUS_GAP and the best
	// candidate is proposed.
	store.PutReceipt(unmatchedReceipt("r1", "Acme Store", 5000, day(2024, time.June, 10)))
	store.PutTransaction(unmatchedTransaction("t1", "ACME STORE 44", -5000, day(2024, time.June, 10)))
	store.PutTransaction(unmatchedTransaction("t2", "ACME STORE 45", -5000, day(2024, time.June, 12)))

	res, err := e.RunAutoMatch(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Zero(t, res.Ambiguous)
	assert.Equal(t, 1, res.Proposed)
	require.Len(t, res.Proposals, 1)
	assert.Equal(t, "t1", res.Proposals[0].TransactionID)
	assert.Equal(t, 90, res.Proposals[0].ConfidenceScore)
}

func TestRunAutoMatchThresholdFiltersBeforeGap(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	// 70 vs 65 is a gap of 5, but the 65 candidate falls below
	// MIN_CONFIDENCE and is discarded before the ambiguity check.
	store.PutReceipt(unmatchedReceipt("r1", "Acme Store", 5000, day(2024, time.June, 10)))
	store.PutTransaction(unmatchedTransaction("t1", "ZYX CORP 12", -5000, day(2024, time.June, 11)))
	store.PutTransaction(unmatchedTransaction("t2", "ZYX CORP 13", -5000, day(2024, time.June, 12)))

	res, err := e.RunAutoMatch(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Zero(t, res.Ambiguous)
	assert.Equal(t, 1, res.Proposed)
	require.Len(t, res.Proposals, 1)
	assert.Equal(t, "t1", res.Proposals[0].TransactionID)
	assert.Equal(t, 70, res.Proposals[0].ConfidenceScore)
}

func TestRunAutoMatchGroupProposal(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	store.PutReceipt(unmatchedReceipt("r1", "Twilio Inc", 15000, day(2024, time.June, 2)))
	store.PutGroup(&expense.TransactionGroup{
		ID:               "g1",
		UserID:           "u1",
		Name:             "TWILIO (3 charges)",
		CombinedAmount:   expense.Cents(-15000),
		DisplayDate:      day(2024, time.June, 2),
		TransactionCount: 3,
		MatchStatus:      expense.StatusUnmatched,
	})

	res, err := e.RunAutoMatch(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Proposed)
	assert.Equal(t, 1, res.GroupMatchCount)
	assert.Zero(t, res.TransactionMatchCount)

	require.Len(t, res.Proposals, 1)
	m := res.Proposals[0]
	assert.True(t, m.IsGroupMatch())
	assert.Equal(t, "g1", m.TransactionGroupID)
	assert.Empty(t, m.TransactionID)
	assert.Equal(t, 90, m.ConfidenceScore)
	assert.Equal(t, 40, m.AmountScore)
	assert.Equal(t, 35, m.DateScore)
	assert.Equal(t, 15, m.VendorScore)

	g, err := store.GetGroup(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, expense.StatusProposed, g.MatchStatus)
}

func TestRunAutoMatchConsumesWinner(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	// Two receipts compete for one transaction; the first proposal
	// consumes it for the rest of the pass.
	store.PutReceipt(unmatchedReceipt("r1", "Acme Coffee", 4217, day(2024, time.May, 10)))
	store.PutReceipt(unmatchedReceipt("r2", "Acme Coffee", 4217, day(2024, time.May, 10)))
	store.PutTransaction(unmatchedTransaction("t1", "ACME COFFEE #0123", -4217, day(2024, time.May, 10)))

	res, err := e.RunAutoMatch(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Proposed)
	require.Len(t, res.Proposals, 1)
	assert.Equal(t, "r1", res.Proposals[0].ReceiptID)
}

func TestRunAutoMatchSkipsUnscorableReceipts(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	noAmount := unmatchedReceipt("r1", "Acme", 0, day(2024, time.May, 10))
	noAmount.AmountExtracted = nil
	noDate := unmatchedReceipt("r2", "Acme", 4217, day(2024, time.May, 10))
	noDate.DateExtracted = nil
	store.PutReceipt(noAmount)
	store.PutReceipt(noDate)
	store.PutTransaction(unmatchedTransaction("t1", "ACME 1", -4217, day(2024, time.May, 10)))

	res, err := e.RunAutoMatch(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Zero(t, res.Proposed)
	assert.Zero(t, res.Ambiguous)
}

func TestRunAutoMatchScopedToRequestedReceipts(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	store.PutReceipt(unmatchedReceipt("r1", "Acme Coffee", 4217, day(2024, time.May, 10)))
	store.PutReceipt(unmatchedReceipt("r2", "Zenith Rides", 1899, day(2024, time.May, 12)))
	store.PutTransaction(unmatchedTransaction("t1", "ACME COFFEE #0123", -4217, day(2024, time.May, 10)))
	store.PutTransaction(unmatchedTransaction("t2", "ZENITH RIDES 99", -1899, day(2024, time.May, 12)))

	res, err := e.RunAutoMatch(ctx, "u1", []string{"r2"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Proposals, 1)
	assert.Equal(t, "r2", res.Proposals[0].ReceiptID)
	assert.Equal(t, "t2", res.Proposals[0].TransactionID)

	r1, err := store.GetReceipt(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, expense.StatusUnmatched, r1.MatchStatus)
}

func TestRunAutoMatchEmptyVendorScoresZeroOnVendorAxis(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	// 40 + 35 + 0 = 75: still above threshold without any vendor signal.
	store.PutReceipt(unmatchedReceipt("r1", "", 4217, day(2024, time.May, 10)))
	store.PutTransaction(unmatchedTransaction("t1", "ACME COFFEE #0123", -4217, day(2024, time.May, 10)))

	res, err := e.RunAutoMatch(ctx, "u1", nil)
	require.NoError(t, err)
	require.Len(t, res.Proposals, 1)
	assert.Equal(t, 75, res.Proposals[0].ConfidenceScore)
	assert.Zero(t, res.Proposals[0].VendorScore)
}

func TestRunAutoMatchIgnoresOtherUsers(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	store.PutReceipt(unmatchedReceipt("r1", "Acme Coffee", 4217, day(2024, time.May, 10)))
	other := unmatchedTransaction("t1", "ACME COFFEE #0123", -4217, day(2024, time.May, 10))
	other.UserID = "u2"
	store.PutTransaction(other)

	res, err := e.RunAutoMatch(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Zero(t, res.Proposed)
}
