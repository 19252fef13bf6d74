// Package blob stores uploaded statement files and receipt images
// behind one Store contract with filesystem, S3, and GCS backends.
// Objects are addressed by sanitized canonical paths; the URLs handed
// out are validated on the way back in so a caller can never read
// outside the configured backend.
package blob

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/spendlens/core/pkg/problem"
)

// Store is the object storage contract. Upload returns the object's
// URL; the other operations take that URL back and refuse URLs that do
// not belong to this store.
type Store interface {
	Upload(ctx context.Context, r io.Reader, objectPath, contentType string) (string, error)
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
	Delete(ctx context.Context, rawURL string) error

	// Presign returns a time-limited direct-access URL. Backends
	// without signing return the stored URL unchanged.
	Presign(ctx context.Context, rawURL string, ttl time.Duration) (string, error)
}

// objectURL renders the URL for a key under the store's base.
func objectURL(base *url.URL, key string) string {
	u := *base
	u.Path = path.Join(base.Path, key)
	return u.String()
}

// objectKey verifies that rawURL belongs to the store rooted at base
// and returns the object key under it. A host mismatch is the classic
// stolen-URL input and fails validation rather than lookup.
func objectKey(op string, base *url.URL, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", problem.Wrapf(problem.KindValidation, op, err, "malformed blob url")
	}
	if u.Scheme != base.Scheme || !strings.EqualFold(u.Host, base.Host) {
		return "", problem.Validationf(op, "url host %q does not match storage host %q", u.Host, base.Host)
	}
	prefix := strings.TrimSuffix(base.Path, "/") + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", problem.Validationf(op, "url path %q is outside the storage root", u.Path)
	}
	key, err := cleanKey(op, strings.TrimPrefix(u.Path, prefix))
	if err != nil {
		return "", err
	}
	return key, nil
}

// cleanKey normalizes an object path and rejects anything that could
// climb out of the storage root.
func cleanKey(op, p string) (string, error) {
	if strings.Contains(p, "\\") {
		return "", problem.Validationf(op, "object path %q contains a backslash", p)
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+p), "/")
	if cleaned == "" || cleaned == "." {
		return "", problem.Validationf(op, "object path is empty")
	}
	if cleaned != strings.TrimPrefix(p, "/") {
		return "", problem.Validationf(op, "object path %q is not canonical", p)
	}
	return cleaned, nil
}
