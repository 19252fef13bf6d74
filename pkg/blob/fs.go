package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spendlens/core/pkg/problem"
)

// FileStore keeps blobs on local disk under one root directory. It is
// the lite-mode and test backend; URLs use the file scheme.
type FileStore struct {
	root string
	base *url.URL
}

// NewFileStore creates the root directory if needed and returns a
// store over it.
func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blob: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blob: ensure root: %w", err)
	}
	return &FileStore{
		root: abs,
		base: &url.URL{Scheme: "file", Path: abs},
	}, nil
}

func (s *FileStore) Upload(ctx context.Context, r io.Reader, objectPath, contentType string) (string, error) {
	const op = "blob.Upload"
	key, err := cleanKey(op, objectPath)
	if err != nil {
		return "", err
	}

	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("blob: ensure dir: %w", err)
	}

	// Write to temp, then rename, so readers never observe a partial
	// object.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("blob: create temp: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blob: commit: %w", err)
	}

	return objectURL(s.base, key), nil
}

func (s *FileStore) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	const op = "blob.Download"
	key, err := objectKey(op, s.base, rawURL)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil, problem.NotFound(op, "blob", key)
	}
	if err != nil {
		return nil, fmt.Errorf("blob: open: %w", err)
	}
	return f, nil
}

func (s *FileStore) Delete(ctx context.Context, rawURL string) error {
	const op = "blob.Delete"
	key, err := objectKey(op, s.base, rawURL)
	if err != nil {
		return err
	}

	err = os.Remove(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blob: delete: %w", err)
	}
	return nil
}

// Presign on the filesystem backend validates ownership and returns
// the URL unchanged; local files need no signature.
func (s *FileStore) Presign(ctx context.Context, rawURL string, _ time.Duration) (string, error) {
	if _, err := objectKey("blob.Presign", s.base, rawURL); err != nil {
		return "", err
	}
	return rawURL, nil
}
