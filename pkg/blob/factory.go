package blob

import (
	"context"
	"fmt"

	"github.com/cybershield/custody/pkg/config"
)

// NewStore creates the configured blob backend.
func NewStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendFile:
		return NewFileStore(cfg.BlobDir)
	case config.BlobBackendS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 blob backend requires a bucket")
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case config.BlobBackendGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("gcs blob backend requires a bucket")
		}
		return NewGCSStore(ctx, GCSConfig{
			Bucket: cfg.GCSBucket,
			Prefix: cfg.GCSPrefix,
		})
	}
	return nil, fmt.Errorf("unsupported blob backend: %s", cfg.BlobBackend)
}
