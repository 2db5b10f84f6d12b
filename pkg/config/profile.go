package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadProfile overlays a YAML profile file on top of c. Only fields
// present in the file override the existing values.
func (c *Config) LoadProfile(path string) error {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-configured path
	if err != nil {
		return fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	if overlay.DatabaseDSN != "" {
		c.DatabaseDSN = overlay.DatabaseDSN
	}
	if overlay.KeystorePath != "" {
		c.KeystorePath = overlay.KeystorePath
	}
	if overlay.BlobBackend != "" {
		c.BlobBackend = overlay.BlobBackend
	}
	if overlay.BlobDir != "" {
		c.BlobDir = overlay.BlobDir
	}
	if overlay.S3Bucket != "" {
		c.S3Bucket = overlay.S3Bucket
	}
	if overlay.S3Region != "" {
		c.S3Region = overlay.S3Region
	}
	if overlay.S3Endpoint != "" {
		c.S3Endpoint = overlay.S3Endpoint
	}
	if overlay.S3Prefix != "" {
		c.S3Prefix = overlay.S3Prefix
	}
	if overlay.GCSBucket != "" {
		c.GCSBucket = overlay.GCSBucket
	}
	if overlay.GCSPrefix != "" {
		c.GCSPrefix = overlay.GCSPrefix
	}
	if overlay.PackageDir != "" {
		c.PackageDir = overlay.PackageDir
	}
	if overlay.IntegrityThreshold > 0 {
		c.IntegrityThreshold = overlay.IntegrityThreshold
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	return nil
}
