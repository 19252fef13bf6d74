package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store keeps blobs in one S3 bucket. A custom endpoint switches the
// client to path-style addressing for MinIO and LocalStack.
type S3Store struct {
	client *s3.Client
	signer *s3.PresignClient
	bucket string
	base   *url.URL
}

// S3Config holds the S3 backend settings.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO/LocalStack
}

// NewS3Store builds an S3-backed store from the ambient AWS
// credentials.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	base, err := s3BaseURL(cfg)
	if err != nil {
		return nil, err
	}
	return &S3Store{
		client: client,
		signer: s3.NewPresignClient(client),
		bucket: cfg.Bucket,
		base:   base,
	}, nil
}

// s3BaseURL is the URL prefix uploads are published under: path-style
// below a custom endpoint, virtual-hosted otherwise.
func s3BaseURL(cfg S3Config) (*url.URL, error) {
	if cfg.Endpoint != "" {
		u, err := url.Parse(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("blob: bad s3 endpoint: %w", err)
		}
		u.Path = "/" + cfg.Bucket
		return u, nil
	}
	return &url.URL{
		Scheme: "https",
		Host:   fmt.Sprintf("%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region),
	}, nil
}

func (s *S3Store) Upload(ctx context.Context, r io.Reader, objectPath, contentType string) (string, error) {
	const op = "blob.Upload"
	key, err := cleanKey(op, objectPath)
	if err != nil {
		return "", err
	}

	// PutObject needs a seekable body for signing; receipts and
	// statements are small enough to buffer.
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("blob: read upload: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("blob: s3 put: %w", err)
	}
	return objectURL(s.base, key), nil
}

func (s *S3Store) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	const op = "blob.Download"
	key, err := objectKey(op, s.base, rawURL)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blob: s3 get %s: %w", key, err)
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, rawURL string) error {
	const op = "blob.Delete"
	key, err := objectKey(op, s.base, rawURL)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("blob: s3 delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Presign(ctx context.Context, rawURL string, ttl time.Duration) (string, error) {
	const op = "blob.Presign"
	key, err := objectKey(op, s.base, rawURL)
	if err != nil {
		return "", err
	}

	req, err := s.signer.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("blob: s3 presign %s: %w", key, err)
	}
	return req.URL, nil
}
