package blob_test

import (
	"context"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spendlens/core/pkg/blob"
	"github.com/spendlens/core/pkg/problem"
)

var safeName = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"my receipt (1).pdf", "my_receipt_1.pdf"},
		{"  padded.png  ", "padded.png"},
		{"UPPER-case_ok.JPG", "UPPER-case_ok.JPG"},
		{"../../etc/passwd", "passwd"},
		{`..\..\windows\system32`, "system32"},
		{"café menü.pdf", "caf_men.pdf"},
		{"", "file"},
		{"???", "file"},
		{"   ", "file"},
	}
	for _, tc := range cases {
		got := blob.SanitizeFilename(tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
		assert.Regexp(t, safeName, got, "input %q", tc.in)
	}
}

func TestSanitizeFilenameCapsLength(t *testing.T) {
	got := blob.SanitizeFilename(strings.Repeat("a", 150) + ".pdf")
	assert.Len(t, got, 100)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
	assert.Regexp(t, safeName, got)
}

func TestCanonicalPath(t *testing.T) {
	p := blob.CanonicalPath("u1", "Q3 report.pdf")
	assert.Regexp(t, `^receipts/u1/\d{4}/\d{2}/[0-9a-f-]{36}_Q3_report\.pdf$`, p)

	// Two uploads of the same filename never collide.
	assert.NotEqual(t, p, blob.CanonicalPath("u1", "Q3 report.pdf"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	url, err := store.Upload(ctx, strings.NewReader("hello receipts"), "receipts/u1/2026/08/abc_test.txt", "text/plain")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file:///"), "got %q", url)

	rc, err := store.Download(ctx, url)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello receipts", string(data))

	// Local files need no signature.
	signed, err := store.Presign(ctx, url, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, url, signed)

	require.NoError(t, store.Delete(ctx, url))

	_, err = store.Download(ctx, url)
	assert.Equal(t, problem.KindNotFound, problem.KindOf(err))

	// Deleting an already-deleted object is a no-op.
	require.NoError(t, store.Delete(ctx, url))
}

func TestFileStoreRefusesForeignURL(t *testing.T) {
	ctx := context.Background()
	store, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, raw := range []string{
		"https://evil.example.com/receipts/u1/2026/08/x.txt",
		"file:///somewhere/else/receipts/u1/x.txt",
		"://not-a-url",
	} {
		_, err := store.Download(ctx, raw)
		assert.Equal(t, problem.KindValidation, problem.KindOf(err), "url %q", raw)

		err = store.Delete(ctx, raw)
		assert.Equal(t, problem.KindValidation, problem.KindOf(err), "url %q", raw)

		_, err = store.Presign(ctx, raw, time.Minute)
		assert.Equal(t, problem.KindValidation, problem.KindOf(err), "url %q", raw)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	for _, p := range []string{
		"receipts/../../etc/passwd",
		`receipts\u1\f.txt`,
		"",
	} {
		_, err := store.Upload(ctx, strings.NewReader("x"), p, "text/plain")
		assert.Equal(t, problem.KindValidation, problem.KindOf(err), "path %q", p)
	}
}

func TestFileStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)

	const key = "receipts/u1/2026/08/abc_dup.txt"
	url1, err := store.Upload(ctx, strings.NewReader("first"), key, "text/plain")
	require.NoError(t, err)
	url2, err := store.Upload(ctx, strings.NewReader("second"), key, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, url1, url2)

	rc, err := store.Download(ctx, url1)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "second", string(data))
}
