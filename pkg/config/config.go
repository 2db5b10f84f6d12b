// Package config loads engine configuration from environment variables
// with optional YAML profile overlays.
package config

import (
	"os"
	"strconv"
)

// Blob backend identifiers.
const (
	BlobBackendFile = "file"
	BlobBackendS3   = "s3"
	BlobBackendGCS  = "gcs"
)

// DefaultIntegrityThreshold is the score below which a verification report
// is flagged questionable. Configurable, not load-bearing for legal
// conclusions.
const DefaultIntegrityThreshold = 0.8

// Config holds engine configuration.
type Config struct {
	DatabaseDSN        string  `yaml:"database_dsn"`
	KeystorePath       string  `yaml:"keystore_path"`
	BlobBackend        string  `yaml:"blob_backend"`
	BlobDir            string  `yaml:"blob_dir"`
	S3Bucket           string  `yaml:"s3_bucket"`
	S3Region           string  `yaml:"s3_region"`
	S3Endpoint         string  `yaml:"s3_endpoint"`
	S3Prefix           string  `yaml:"s3_prefix"`
	GCSBucket          string  `yaml:"gcs_bucket"`
	GCSPrefix          string  `yaml:"gcs_prefix"`
	PackageDir         string  `yaml:"package_dir"`
	IntegrityThreshold float64 `yaml:"integrity_threshold"`
	LogLevel           string  `yaml:"log_level"`
}

// Load loads configuration from environment variables.
func Load() *Config {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "file:custody.db"
	}

	keystore := os.Getenv("KEYSTORE_PATH")
	if keystore == "" {
		keystore = "keys/custody_keystore.json"
	}

	backend := os.Getenv("BLOB_BACKEND")
	if backend == "" {
		backend = BlobBackendFile
	}

	blobDir := os.Getenv("BLOB_DIR")
	if blobDir == "" {
		blobDir = "data/blobs"
	}

	packageDir := os.Getenv("PACKAGE_DIR")
	if packageDir == "" {
		packageDir = "data/packages"
	}

	threshold := DefaultIntegrityThreshold
	if v := os.Getenv("INTEGRITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 1 {
			threshold = f
		}
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	region := os.Getenv("BLOB_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return &Config{
		DatabaseDSN:        dsn,
		KeystorePath:       keystore,
		BlobBackend:        backend,
		BlobDir:            blobDir,
		S3Bucket:           os.Getenv("BLOB_S3_BUCKET"),
		S3Region:           region,
		S3Endpoint:         os.Getenv("BLOB_S3_ENDPOINT"),
		S3Prefix:           os.Getenv("BLOB_S3_PREFIX"),
		GCSBucket:          os.Getenv("BLOB_GCS_BUCKET"),
		GCSPrefix:          os.Getenv("BLOB_GCS_PREFIX"),
		PackageDir:         packageDir,
		IntegrityThreshold: threshold,
		LogLevel:           logLevel,
	}
}
