package aliases

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendlens/core/pkg/expense"
	"github.com/spendlens/core/pkg/problem"
)

const confirmThreshold = 3

func TestConfirmGLAdoptsFirstValue(t *testing.T) {
	a := &expense.VendorAlias{CanonicalName: "UBER"}

	changed := ConfirmGL(a, "6100", confirmThreshold)
	assert.True(t, changed)
	assert.Equal(t, "6100", a.DefaultGLCode)
	assert.Equal(t, 1, a.GLConfirmCount)
}

func TestConfirmGLEntrenchesSameValue(t *testing.T) {
	a := &expense.VendorAlias{DefaultGLCode: "6100", GLConfirmCount: 1}

	assert.True(t, ConfirmGL(a, "6100", confirmThreshold))
	assert.True(t, ConfirmGL(a, "6100", confirmThreshold))
	assert.Equal(t, confirmThreshold, a.GLConfirmCount)

	// At the cap a matching confirmation is a no-op.
	assert.False(t, ConfirmGL(a, "6100", confirmThreshold))
	assert.Equal(t, confirmThreshold, a.GLConfirmCount)
	assert.Equal(t, "6100", a.DefaultGLCode)
}

func TestConfirmGLPromotesAfterThreeConfirmations(t *testing.T) {
	// Default 5000; three confirmations of 6000 replace the default, so
	// the next suggestion serves 6000.
	a := &expense.VendorAlias{DefaultGLCode: "5000"}

	assert.True(t, ConfirmGL(a, "6000", confirmThreshold))
	assert.Equal(t, "5000", a.DefaultGLCode)
	assert.True(t, ConfirmGL(a, "6000", confirmThreshold))
	assert.Equal(t, "5000", a.DefaultGLCode)

	assert.True(t, ConfirmGL(a, "6000", confirmThreshold))
	assert.Equal(t, "6000", a.DefaultGLCode)
	assert.Equal(t, confirmThreshold, a.GLConfirmCount)
}

func TestConfirmGLEntrenchedDefaultReplacedWhenDiffering(t *testing.T) {
	a := &expense.VendorAlias{DefaultGLCode: "5000", GLConfirmCount: confirmThreshold}

	assert.True(t, ConfirmGL(a, "7100", confirmThreshold))
	assert.Equal(t, "7100", a.DefaultGLCode)
	assert.Equal(t, confirmThreshold, a.GLConfirmCount)
}

func TestConfirmGLEmptyValueIsNoOp(t *testing.T) {
	a := &expense.VendorAlias{DefaultGLCode: "5000", GLConfirmCount: 2}

	assert.False(t, ConfirmGL(a, "", confirmThreshold))
	assert.Equal(t, "5000", a.DefaultGLCode)
	assert.Equal(t, 2, a.GLConfirmCount)
}

func TestConfirmDepartmentMirrorsGLRule(t *testing.T) {
	a := &expense.VendorAlias{DefaultDepartment: "Sales"}

	assert.True(t, ConfirmDepartment(a, "Engineering", confirmThreshold))
	assert.True(t, ConfirmDepartment(a, "Engineering", confirmThreshold))
	assert.Equal(t, "Sales", a.DefaultDepartment)

	assert.True(t, ConfirmDepartment(a, "Engineering", confirmThreshold))
	assert.Equal(t, "Engineering", a.DefaultDepartment)
	assert.Equal(t, confirmThreshold, a.DeptConfirmCount)
}

func TestMemoryStoreFindMatchesSubstring(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.AddOrUpdate(ctx, &expense.VendorAlias{
		CanonicalName: "UNITED",
		AliasPattern:  "UNITED",
		Category:      expense.CategoryAirline,
		DefaultGLCode: "6200",
	}))

	a, ok, err := s.Find(ctx, "united 0162341198220")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "UNITED", a.CanonicalName)
	assert.Equal(t, 1, a.MatchCount)
	require.NotNil(t, a.LastMatchedAt)

	_, ok, err = s.Find(ctx, "LYFT *RIDE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreSelectionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.AddOrUpdate(ctx, &expense.VendorAlias{
		CanonicalName: "AMAZON", AliasPattern: "AMAZON", Confidence: 0.8,
	}))
	require.NoError(t, s.AddOrUpdate(ctx, &expense.VendorAlias{
		CanonicalName: "AMAZON WEB SERVICES", AliasPattern: "AMAZON WEB", Confidence: 0.9,
	}))

	// Higher confidence wins even though the other pattern also matches.
	a, ok, err := s.Find(ctx, "AMAZON WEB SERVICES BILL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "AMAZON WEB SERVICES", a.CanonicalName)

	// Equal confidence: the longer pattern wins.
	s2 := NewMemoryStore()
	require.NoError(t, s2.AddOrUpdate(ctx, &expense.VendorAlias{
		CanonicalName: "SQ", AliasPattern: "SQ *",
	}))
	require.NoError(t, s2.AddOrUpdate(ctx, &expense.VendorAlias{
		CanonicalName: "SQ BLUE BOTTLE", AliasPattern: "SQ *BLUE BOTTLE",
	}))

	b, ok, err := s2.Find(ctx, "SQ *BLUE BOTTLE OAKLAND")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "SQ BLUE BOTTLE", b.CanonicalName)
}

func TestMemoryStoreFindInCategories(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.AddOrUpdate(ctx, &expense.VendorAlias{
		CanonicalName: "MARRIOTT", AliasPattern: "MARRIOTT", Category: expense.CategoryHotel,
	}))
	require.NoError(t, s.AddOrUpdate(ctx, &expense.VendorAlias{
		CanonicalName: "DELTA", AliasPattern: "DELTA", Category: expense.CategoryAirline,
	}))

	_, ok, err := s.FindInCategories(ctx, "MARRIOTT DOWNTOWN 442", []expense.AliasCategory{expense.CategoryAirline})
	require.NoError(t, err)
	assert.False(t, ok, "category filter must exclude hotels")

	a, ok, err := s.FindInCategories(ctx, "MARRIOTT DOWNTOWN 442", []expense.AliasCategory{expense.CategoryAirline, expense.CategoryHotel})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "MARRIOTT", a.CanonicalName)
}

func TestMemoryStoreGetByVendorNameFallsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.AddOrUpdate(ctx, &expense.VendorAlias{
		CanonicalName: "ACME COFFEE", AliasPattern: "ACME",
	}))

	// Exact canonical-name hit, case-insensitive.
	a, ok, err := s.GetByVendorName(ctx, "acme coffee")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ACME COFFEE", a.CanonicalName)

	// No exact canonical name, but the pattern occurs in the name.
	b, ok, err := s.GetByVendorName(ctx, "ACME COFFEE ROASTERS LLC")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ACME COFFEE", b.CanonicalName)
}

func TestMemoryStoreAddOrUpdatePreservesCounters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := &expense.VendorAlias{CanonicalName: "UBER", AliasPattern: "UBER", DefaultGLCode: "6100"}
	require.NoError(t, s.AddOrUpdate(ctx, first))
	require.NoError(t, s.RecordMatch(ctx, first.ID))

	second := &expense.VendorAlias{CanonicalName: "UBER", AliasPattern: "UBER", DisplayName: "Uber"}
	require.NoError(t, s.AddOrUpdate(ctx, second))
	assert.Equal(t, first.ID, second.ID, "upsert reuses the existing row")

	got, err := s.GetByCanonicalName(ctx, "UBER")
	require.NoError(t, err)
	assert.Equal(t, 1, got.MatchCount, "counters survive upsert")
	assert.Equal(t, "Uber", got.DisplayName)
	assert.Equal(t, "6100", got.DefaultGLCode, "empty fields do not clobber")
}

func TestMemoryStoreNotFoundProblems(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.RecordMatch(ctx, "missing")
	assert.True(t, problem.IsNotFound(err))

	err = s.UpdateDefaults(ctx, &expense.VendorAlias{ID: "missing"})
	assert.True(t, problem.IsNotFound(err))

	_, err = s.GetByCanonicalName(ctx, "NOBODY")
	assert.True(t, problem.IsNotFound(err))
}

func aliasRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "canonical_name", "alias_pattern", "display_name", "category",
		"default_gl_code", "default_department",
		"gl_confirm_count", "dept_confirm_count", "match_count", "last_matched_at", "confidence",
	})
}

func TestPostgresStoreFindHit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	matched := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE vendor_aliases")).
		WithArgs("UNITED 0162341198220").
		WillReturnRows(aliasRows().AddRow(
			"a1", "UNITED", "UNITED", "United Airlines", "airline",
			"6200", "Travel", 3, 1, 12, matched, 0.9,
		))

	a, ok, err := store.Find(context.Background(), "UNITED 0162341198220")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "UNITED", a.CanonicalName)
	assert.Equal(t, expense.CategoryAirline, a.Category)
	assert.Equal(t, "6200", a.DefaultGLCode)
	assert.Equal(t, 12, a.MatchCount)
	require.NotNil(t, a.LastMatchedAt)
	assert.True(t, a.LastMatchedAt.Equal(matched))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreFindMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE vendor_aliases")).
		WithArgs("NO SUCH VENDOR").
		WillReturnRows(aliasRows())

	_, ok, err := store.Find(context.Background(), "NO SUCH VENDOR")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreFindInCategoriesFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("category = ANY($2)")).
		WithArgs("DELTA AIR 00621", pq.Array([]string{"airline", "hotel"})).
		WillReturnRows(aliasRows().AddRow(
			"a2", "DELTA", "DELTA", "", "airline",
			"", "", 0, 0, 1, nil, 1.0,
		))

	a, ok, err := store.FindInCategories(context.Background(), "DELTA AIR 00621",
		[]expense.AliasCategory{expense.CategoryAirline, expense.CategoryHotel})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "DELTA", a.CanonicalName)
	assert.Nil(t, a.LastMatchedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAddOrUpdateFillsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO vendor_aliases")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-id"))

	a := &expense.VendorAlias{CanonicalName: "TWILIO", AliasPattern: "TWILIO"}
	require.NoError(t, store.AddOrUpdate(context.Background(), a))
	assert.Equal(t, "existing-id", a.ID, "conflicting upsert returns the existing row id")
	assert.Equal(t, expense.CategoryGeneric, a.Category)
	assert.Equal(t, 1.0, a.Confidence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRecordMatchNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE vendor_aliases")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.RecordMatch(context.Background(), "missing")
	assert.True(t, problem.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
