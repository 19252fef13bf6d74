//go:build gcp

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"cloud.google.com/go/storage"

	"github.com/spendlens/core/pkg/problem"
)

// GCSStore keeps blobs in one Google Cloud Storage bucket. The client
// authenticates via application default credentials.
type GCSStore struct {
	client *storage.Client
	bucket string
	base   *url.URL
}

// NewGCSStore opens a GCS-backed store for the given bucket.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: gcs client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
		base: &url.URL{
			Scheme: "https",
			Host:   "storage.googleapis.com",
			Path:   "/" + bucket,
		},
	}, nil
}

func (s *GCSStore) Upload(ctx context.Context, r io.Reader, objectPath, contentType string) (string, error) {
	const op = "blob.Upload"
	key, err := cleanKey(op, objectPath)
	if err != nil {
		return "", err
	}

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("blob: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("blob: gcs close: %w", err)
	}
	return objectURL(s.base, key), nil
}

func (s *GCSStore) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	const op = "blob.Download"
	key, err := objectKey(op, s.base, rawURL)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, problem.NotFound(op, "blob", key)
		}
		return nil, fmt.Errorf("blob: gcs get %s: %w", key, err)
	}
	return rc, nil
}

func (s *GCSStore) Delete(ctx context.Context, rawURL string) error {
	const op = "blob.Delete"
	key, err := objectKey(op, s.base, rawURL)
	if err != nil {
		return err
	}

	err = s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("blob: gcs delete %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Presign(ctx context.Context, rawURL string, ttl time.Duration) (string, error) {
	const op = "blob.Presign"
	key, err := objectKey(op, s.base, rawURL)
	if err != nil {
		return "", err
	}

	signed, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("blob: gcs presign %s: %w", key, err)
	}
	return signed, nil
}

// Close releases the underlying GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
