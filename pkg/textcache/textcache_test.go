package textcache

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyNormalizesCaseAndWhitespace(t *testing.T) {
	base := Key("uber *trip help.uber.com")

	assert.Equal(t, base, Key("UBER *TRIP HELP.UBER.COM"))
	assert.Equal(t, base, Key("  uber *trip help.uber.com  "))
	assert.NotEqual(t, base, Key("uber *eats help.uber.com"))
	assert.Len(t, base, 64)
}

func TestKeyPreservesInteriorSpacing(t *testing.T) {
	// Only the ends are trimmed; interior runs are significant.
	assert.NotEqual(t, Key("sq  *coffee"), Key("sq *coffee"))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, hit, err := s.Lookup(ctx, "UBER *TRIP")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, s.Save(ctx, "UBER *TRIP", "Uber trip"))

	got, hit, err := s.Lookup(ctx, "uber *trip")
	require.NoError(t, err)
	assert.True(t, hit, "case variants share the entry")
	assert.Equal(t, "Uber trip", got)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Entries)
	assert.Equal(t, int64(2), st.TotalUses, "save seeds one use, lookup adds one")
	require.NotNil(t, st.OldestEntry)
}

func TestMemoryStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Save(ctx, "AMZN MKTP", "Amazon marketplace"))
	require.NoError(t, s.Save(ctx, "AMZN MKTP", "Amazon"))

	got, hit, err := s.Lookup(ctx, "AMZN MKTP")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Amazon", got)
}

func TestPostgresStoreLookupHit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE normalized_text_cache")).
		WithArgs(Key("UBER *TRIP")).
		WillReturnRows(sqlmock.NewRows([]string{"normalized_text"}).AddRow("Uber trip"))

	got, hit, err := store.Lookup(context.Background(), "UBER *TRIP")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Uber trip", got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLookupMiss(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE normalized_text_cache")).
		WithArgs(Key("never seen")).
		WillReturnRows(sqlmock.NewRows([]string{"normalized_text"}))

	_, hit, err := store.Lookup(context.Background(), "never seen")
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO normalized_text_cache")).
		WithArgs(Key("SQ *BLUE BOTTLE"), "SQ *BLUE BOTTLE", "Blue Bottle Coffee").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Save(context.Background(), "SQ *BLUE BOTTLE", "Blue Bottle Coffee"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COALESCE(SUM(use_count), 0), MIN(created_at)")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum", "min"}).AddRow(12, 340, nil))

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), st.Entries)
	assert.Equal(t, int64(340), st.TotalUses)
	assert.Nil(t, st.OldestEntry)
}
