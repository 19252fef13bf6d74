//go:build gcp

package blob

import "context"

func newGCSStore(ctx context.Context, bucket string) (Store, error) {
	return NewGCSStore(ctx, bucket)
}
