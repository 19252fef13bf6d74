package blob

import (
	"context"
	"fmt"
	"os"

	"github.com/spendlens/core/pkg/config"
)

// NewStore builds the blob backend selected by BLOB_BACKEND.
//
// For S3, region and endpoint come from BLOB_S3_REGION (falling back
// to AWS_REGION, then us-east-1) and BLOB_S3_ENDPOINT. GCS requires a
// binary built with -tags gcp.
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.BlobBackend {
	case "", "fs":
		return NewFileStore(cfg.BlobFSRoot)
	case "s3":
		if cfg.BlobBucket == "" {
			return nil, fmt.Errorf("blob: BLOB_BUCKET is required for s3 storage")
		}
		region := os.Getenv("BLOB_S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.BlobBucket,
			Region:   region,
			Endpoint: os.Getenv("BLOB_S3_ENDPOINT"),
		})
	case "gcs":
		if cfg.BlobBucket == "" {
			return nil, fmt.Errorf("blob: BLOB_BUCKET is required for gcs storage")
		}
		return newGCSStore(ctx, cfg.BlobBucket)
	default:
		return nil, fmt.Errorf("blob: unsupported backend %q", cfg.BlobBackend)
	}
}
