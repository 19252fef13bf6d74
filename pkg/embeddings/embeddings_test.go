package embeddings

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine(Vector{1, 0}, Vector{2, 0}), 1e-9, "same direction")
	assert.InDelta(t, 0.0, Cosine(Vector{1, 0}, Vector{0, 1}), 1e-9, "orthogonal")
	assert.InDelta(t, -1.0, Cosine(Vector{1, 0}, Vector{-1, 0}), 1e-9, "opposite")
	assert.Equal(t, 0.0, Cosine(Vector{1, 0}, Vector{1, 0, 0}), "length mismatch")
	assert.Equal(t, 0.0, Cosine(Vector{0, 0}, Vector{1, 0}), "zero vector")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 500))
	assert.Equal(t, "abcde", Truncate("abcdefgh", 5))
	assert.Equal(t, "abc", Truncate("abc", 0), "non-positive max keeps text")

	// Rune-safe: multibyte characters are never split.
	assert.Equal(t, "héll", Truncate("héllo", 4))
}

func TestMemoryEmbedderDeterministic(t *testing.T) {
	e := &MemoryEmbedder{Dims: 16}
	ctx := context.Background()

	a1, err := e.Embed(ctx, "uber trip")
	require.NoError(t, err)
	a2, err := e.Embed(ctx, "uber trip")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "delta airlines")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.Len(t, a1, 16)
	assert.NotEqual(t, a1, b)
	assert.InDelta(t, 1.0, Cosine(a1, a2), 1e-9)
	assert.Less(t, Cosine(a1, b), 0.99, "distinct texts land apart")
}

func TestMemoryStoreSearchScopesAndRanks(t *testing.T) {
	ctx := context.Background()
	e := &MemoryEmbedder{Dims: 16}
	s := NewMemoryStore()

	uberVec, _ := e.Embed(ctx, "uber trip san francisco")
	deltaVec, _ := e.Embed(ctx, "delta air lines atlanta")
	otherVec, _ := e.Embed(ctx, "uber trip san francisco")

	require.NoError(t, s.Insert(ctx, Record{ID: "e1", UserID: "u1", SourceText: "uber trip san francisco", Vector: uberVec, GLCode: "6100"}))
	require.NoError(t, s.Insert(ctx, Record{ID: "e2", UserID: "u1", SourceText: "delta air lines atlanta", Vector: deltaVec, GLCode: "6200"}))
	require.NoError(t, s.Insert(ctx, Record{ID: "e3", UserID: "u2", SourceText: "uber trip san francisco", Vector: otherVec, GLCode: "9999"}))

	query, _ := e.Embed(ctx, "uber trip san francisco")
	matches, err := s.SearchTopK(ctx, "u1", query, 5)
	require.NoError(t, err)

	require.Len(t, matches, 2, "other users' rows never appear")
	assert.Equal(t, "e1", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
	assert.Equal(t, "6100", matches[0].GLCode)
}

func TestMemoryStorePurgeKeepsVerified(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	old := time.Now().AddDate(0, -7, 0)

	require.NoError(t, s.Insert(ctx, Record{ID: "stale", UserID: "u1", CreatedAt: old, Verified: false}))
	require.NoError(t, s.Insert(ctx, Record{ID: "verified", UserID: "u1", CreatedAt: old, Verified: true}))
	require.NoError(t, s.Insert(ctx, Record{ID: "fresh", UserID: "u1", CreatedAt: time.Now(), Verified: false}))

	purged, err := s.PurgeStale(ctx, time.Now().AddDate(0, -6, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	matches, err := s.SearchTopK(ctx, "u1", Vector{1}, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"verified", "fresh"}, ids)
}

func TestFormatVector(t *testing.T) {
	assert.Equal(t, "[1,0.5,-0.25]", formatVector(Vector{1, 0.5, -0.25}))
	assert.Equal(t, "[]", formatVector(Vector{}))
}

func TestPostgresStoreSearchTopK(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db, 3)
	vec := Vector{1, 0, 0}

	rows := sqlmock.NewRows([]string{"id", "source_text", "gl_code", "department", "verified", "similarity"}).
		AddRow("e1", "uber trip", "6100", "Sales", true, 0.97).
		AddRow("e2", "uber eats", "6400", "", false, 0.88)

	mock.ExpectQuery(regexp.QuoteMeta("1 - (embedding <=> $1::vector) AS similarity")).
		WithArgs(formatVector(vec), "u1", 5).
		WillReturnRows(rows)

	matches, err := store.SearchTopK(context.Background(), "u1", vec, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "e1", matches[0].ID)
	assert.True(t, matches[0].Verified)
	assert.InDelta(t, 0.97, matches[0].Similarity, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRejectsDimensionMismatch(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db, 1536)

	_, err = store.SearchTopK(context.Background(), "u1", Vector{1, 2}, 5)
	assert.Error(t, err)

	err = store.Insert(context.Background(), Record{ID: "x", UserID: "u1", Vector: Vector{1}})
	assert.Error(t, err)
}

func TestPostgresStorePurgeStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db, 3)
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM text_embeddings")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := store.PurgeStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
