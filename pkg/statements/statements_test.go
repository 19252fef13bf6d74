package statements_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendlens/core/pkg/ai"
	"github.com/spendlens/core/pkg/config"
	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/metering"
	"github.com/spendlens/core/pkg/problem"
	"github.com/spendlens/core/pkg/statements"
)

// fakeChat answers every completion with a fixed payload.
type fakeChat struct {
	mu       sync.Mutex
	calls    int
	lastUser string
	content  string
	err      error
}

func (f *fakeChat) Chat(_ context.Context, messages []ai.Message, _ *ai.SamplingOptions) (*ai.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for _, m := range messages {
		if m.Role == "user" {
			f.lastUser = m.Content
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Response{Content: f.content, Model: "test-model"}, nil
}

type fixture struct {
	resolver *statements.Resolver
	store    *statements.MemoryStore
	meter    *metering.MemoryStore
}

func newFixture() *fixture {
	store := statements.NewMemoryStore()
	meterStore := metering.NewMemoryStore()
	return &fixture{
		resolver: statements.NewResolver(store, metering.NewService(meterStore, config.DefaultTuning())),
		store:    store,
		meter:    meterStore,
	}
}

func (f *fixture) withAI(content string) *fakeChat {
	chat := &fakeChat{content: content}
	f.resolver.SetAI(ai.NewCompleter(chat, "test-model"))
	return chat
}

const completeMapping = `{
	"columnMapping": {"date": "date", "description": "description", "amount": "amount"},
	"dateFormat": "MM/DD/YYYY",
	"amountSign": "negative_charges",
	"confidence": 0.95
}`

func TestHeaderHashInvariance(t *testing.T) {
	a := statements.HeaderHash([]string{"Date", "Description", "Amount"})
	b := statements.HeaderHash([]string{"description", "DATE", "amount"})
	c := statements.HeaderHash([]string{" amount ", "Description", "Date"})
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)

	d := statements.HeaderHash([]string{"Date", "Description", "Debit"})
	assert.NotEqual(t, a, d)
}

func TestResolveFingerprintHit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.store.Insert(ctx, &expense.StatementFingerprint{
		UserID:     "u1",
		HeaderHash: statements.HeaderHash([]string{"Date", "Description", "Amount"}),
		ColumnMapping: map[string]expense.ColumnField{
			"Date": expense.FieldDate, "Description": expense.FieldDescription, "Amount": expense.FieldAmount,
		},
		AmountSign: expense.NegativeCharges,
		Confidence: 1,
	}))

	m, err := f.resolver.Resolve(ctx, "u1", []string{"Date", "Description", "Amount"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Tier)
	assert.True(t, m.CacheHit)
	assert.False(t, m.NeedsConfirmation)
	assert.Equal(t, int64(1), m.Fingerprint.HitCount)

	rows := f.meter.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, metering.OpColumnMapping, rows[0].Operation)
	assert.Equal(t, 1, rows[0].Tier)
	assert.True(t, rows[0].CacheHit)
}

func TestResolveInfersPersistsAndReuses(t *testing.T) {
	f := newFixture()
	chat := f.withAI(completeMapping)
	ctx := context.Background()

	m, err := f.resolver.Resolve(ctx, "u1", []string{"Date", "Description", "Amount"},
		[][]string{{"05/10/2024", "ACME COFFEE #0123", "-42.17"}})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Tier)
	assert.False(t, m.NeedsConfirmation)
	// Mapping keys keep the statement's casing, not the model's.
	assert.Equal(t, expense.FieldDate, m.Fingerprint.ColumnMapping["Date"])
	assert.Equal(t, "MM/DD/YYYY", m.Fingerprint.DateFormat)
	assert.Contains(t, chat.lastUser, "ACME COFFEE #0123")

	// Same layout, permuted and recased headers: fingerprint hit.
	second, err := f.resolver.Resolve(ctx, "u1", []string{"description", "DATE", "amount"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Tier)
	assert.True(t, second.CacheHit)
	assert.Equal(t, int64(1), second.Fingerprint.HitCount)
	assert.Equal(t, 1, chat.calls)

	rows := f.meter.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, 3, rows[0].Tier)
	assert.Equal(t, "test-model", rows[0].Model)
	assert.Equal(t, 1, rows[1].Tier)
}

func TestResolveClampsIncompleteMapping(t *testing.T) {
	f := newFixture()
	f.withAI(`{
		"columnMapping": {"date": "date", "amount": "amount"},
		"dateFormat": "MM/DD/YYYY",
		"amountSign": "negative_charges",
		"confidence": 0.9
	}`)
	ctx := context.Background()
	headers := []string{"Date", "Amount", "Details"}

	m, err := f.resolver.Resolve(ctx, "u1", headers, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Tier)
	assert.True(t, m.NeedsConfirmation)
	assert.LessOrEqual(t, m.Fingerprint.Confidence, 0.5)

	_, ok, err := f.store.Lookup(ctx, "u1", statements.HeaderHash(headers))
	require.NoError(t, err)
	assert.False(t, ok, "incomplete mapping must not be persisted")
}

func TestResolveDropsUnknownFieldsAndHeaders(t *testing.T) {
	f := newFixture()
	f.withAI(`{
		"columnMapping": {
			"date": "date",
			"description": "description",
			"amount": "amount",
			"details": "annotation",
			"phantom": "memo"
		},
		"dateFormat": "YYYY-MM-DD",
		"amountSign": "positive_charges",
		"confidence": 0.8
	}`)
	ctx := context.Background()

	m, err := f.resolver.Resolve(ctx, "u1", []string{"Date", "Description", "Amount", "Details"}, nil)
	require.NoError(t, err)
	mapping := m.Fingerprint.ColumnMapping
	assert.Len(t, mapping, 3)
	assert.NotContains(t, mapping, "Details", "unrecognized field type is dropped")
	assert.NotContains(t, mapping, "phantom", "header the statement does not have is dropped")
	assert.Equal(t, expense.PositiveCharges, m.Fingerprint.AmountSign)
}

func TestResolveModelFailureRecordsDegradedRow(t *testing.T) {
	f := newFixture()
	chat := f.withAI("")
	chat.err = errors.New("model down")
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, "u1", []string{"Date", "Description", "Amount"}, nil)
	require.Error(t, err)

	rows := f.meter.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].Tier)
	assert.False(t, rows[0].CacheHit)
}

func TestResolveWithoutModel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, "u1", []string{"Date", "Description", "Amount"}, nil)
	assert.Equal(t, problem.KindUnavailable, problem.KindOf(err))
}

func TestResolveValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, "", []string{"Date"}, nil)
	assert.Equal(t, problem.KindValidation, problem.KindOf(err))

	_, err = f.resolver.Resolve(ctx, "u1", nil, nil)
	assert.Equal(t, problem.KindValidation, problem.KindOf(err))

	_, err = f.resolver.Resolve(ctx, "u1", []string{"  ", ""}, nil)
	assert.Equal(t, problem.KindValidation, problem.KindOf(err))
}

func TestAcceptPersistsReviewedMapping(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	headers := []string{"Posted", "Details", "Debit"}

	fp := &expense.StatementFingerprint{
		HeaderHash: statements.HeaderHash(headers),
		ColumnMapping: map[string]expense.ColumnField{
			"Posted": expense.FieldDate, "Details": expense.FieldDescription, "Debit": expense.FieldAmount,
		},
		DateFormat: "MM/DD/YYYY",
		AmountSign: expense.PositiveCharges,
		Confidence: 0.4,
	}
	require.NoError(t, f.resolver.Accept(ctx, "u1", fp))

	m, err := f.resolver.Resolve(ctx, "u1", headers, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Tier)
	assert.Equal(t, 1.0, m.Fingerprint.Confidence, "review makes the mapping authoritative")
	assert.Equal(t, "u1", m.Fingerprint.UserID)
}

func TestAcceptRejectsIncompleteMapping(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	err := f.resolver.Accept(ctx, "u1", &expense.StatementFingerprint{
		HeaderHash: "abc",
		ColumnMapping: map[string]expense.ColumnField{
			"Date": expense.FieldDate, "Amount": expense.FieldAmount,
		},
	})
	assert.Equal(t, problem.KindValidation, problem.KindOf(err))

	err = f.resolver.Accept(ctx, "u1", &expense.StatementFingerprint{
		HeaderHash: "abc",
		ColumnMapping: map[string]expense.ColumnField{
			"Date": expense.FieldDate, "Amount": expense.FieldAmount, "Details": "annotation",
		},
	})
	assert.Equal(t, problem.KindValidation, problem.KindOf(err))
}

func TestSystemFingerprintFallback(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	headers := []string{"Date", "Description", "Amount"}
	hash := statements.HeaderHash(headers)

	require.NoError(t, f.store.Insert(ctx, &expense.StatementFingerprint{
		HeaderHash: hash,
		ColumnMapping: map[string]expense.ColumnField{
			"Date": expense.FieldDate, "Description": expense.FieldDescription, "Amount": expense.FieldAmount,
		},
		Confidence: 1,
	}))
	require.NoError(t, f.store.Insert(ctx, &expense.StatementFingerprint{
		UserID:     "u1",
		HeaderHash: hash,
		ColumnMapping: map[string]expense.ColumnField{
			"Date": expense.FieldDate, "Description": expense.FieldDescription, "Amount": expense.FieldAmount,
		},
		DateFormat: "DD/MM/YYYY",
		Confidence: 1,
	}))

	// The owner gets their own row, everyone else the system fallback.
	mine, err := f.resolver.Resolve(ctx, "u1", headers, nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", mine.Fingerprint.UserID)
	assert.Equal(t, "DD/MM/YYYY", mine.Fingerprint.DateFormat)

	other, err := f.resolver.Resolve(ctx, "u2", headers, nil)
	require.NoError(t, err)
	assert.Empty(t, other.Fingerprint.UserID)
	assert.Empty(t, other.Fingerprint.DateFormat)
}

func TestReadStatement(t *testing.T) {
	csvText := "\uFEFFDate,Description,Amount,Notes\n" +
		"05/10/2024,\"ACME COFFEE #0123\",-42.17,team lunch\n" +
		",,,\n" +
		"05/11/2024,\"UBER TRIP, SF\",-18.40\n"

	headers, rows, err := statements.ReadStatement(strings.NewReader(csvText))
	require.NoError(t, err)
	assert.Equal(t, []string{"Date", "Description", "Amount", "Notes"}, headers)
	require.Len(t, rows, 3)
	assert.Equal(t, "UBER TRIP, SF", rows[2][1])
	assert.Len(t, rows[2], 3, "ragged rows pass through")

	_, _, err = statements.ReadStatement(strings.NewReader(""))
	assert.Equal(t, problem.KindValidation, problem.KindOf(err))
}

func TestApplyFingerprintRows(t *testing.T) {
	fp := &expense.StatementFingerprint{
		ColumnMapping: map[string]expense.ColumnField{
			"Date": expense.FieldDate, "Description": expense.FieldDescription,
			"Amount": expense.FieldAmount, "Notes": expense.FieldMemo,
		},
		DateFormat: "MM/DD/YYYY",
		AmountSign: expense.NegativeCharges,
	}
	headers := []string{"Date", "Description", "Amount", "Notes"}
	rows := [][]string{
		{"05/10/2024", "ACME COFFEE #0123", "-42.17", "team lunch"},
		{"", "", "", ""},
		{"05/11/2024", "UBER TRIP, SF", "-18.40"},
	}

	out, err := statements.ApplyFingerprint(fp, headers, rows)
	require.NoError(t, err)
	require.Len(t, out, 2, "all-empty rows are skipped")

	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), out[0].Date)
	assert.Equal(t, "ACME COFFEE #0123", out[0].Description)
	assert.Equal(t, expense.Cents(-4217), out[0].Amount)
	assert.Equal(t, "team lunch", out[0].Memo)
	assert.Equal(t, expense.Cents(-1840), out[1].Amount)
}

func TestApplyFingerprintFlipsPositiveCharges(t *testing.T) {
	fp := &expense.StatementFingerprint{
		ColumnMapping: map[string]expense.ColumnField{
			// Header casing differs from the statement's; matching is
			// case-insensitive like the hash that selected the fingerprint.
			"date": expense.FieldDate, "description": expense.FieldDescription, "amount": expense.FieldAmount,
		},
		AmountSign: expense.PositiveCharges,
	}
	headers := []string{"Date", "Description", "Amount"}

	out, err := statements.ApplyFingerprint(fp, headers, [][]string{
		{"2024-05-10", "ACME COFFEE #0123", "42.17"},
		{"2024-05-12", "REFUND ACME", "-10.00"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, expense.Cents(-4217), out[0].Amount, "charges become negative")
	assert.Equal(t, expense.Cents(1000), out[1].Amount, "credits become positive")
}

func TestApplyFingerprintBadCell(t *testing.T) {
	fp := &expense.StatementFingerprint{
		ColumnMapping: map[string]expense.ColumnField{
			"Date": expense.FieldDate, "Description": expense.FieldDescription, "Amount": expense.FieldAmount,
		},
		DateFormat: "MM/DD/YYYY",
	}
	headers := []string{"Date", "Description", "Amount"}

	_, err := statements.ApplyFingerprint(fp, headers, [][]string{
		{"05/10/2024", "OK ROW", "-1.00"},
		{"not a date", "BAD ROW", "-2.00"},
	})
	require.Error(t, err)
	assert.Equal(t, problem.KindParse, problem.KindOf(err))
	assert.Contains(t, err.Error(), "row 2")

	_, err = statements.ApplyFingerprint(&expense.StatementFingerprint{
		ColumnMapping: map[string]expense.ColumnField{"Date": expense.FieldDate},
	}, headers, nil)
	assert.Equal(t, problem.KindValidation, problem.KindOf(err))
}

func TestDateLayout(t *testing.T) {
	assert.Equal(t, "01/02/2006", statements.DateLayout("MM/DD/YYYY"))
	assert.Equal(t, "2006-01-02", statements.DateLayout("YYYY-MM-DD"))
	assert.Equal(t, "1/2/06", statements.DateLayout("M/D/YY"))
}
