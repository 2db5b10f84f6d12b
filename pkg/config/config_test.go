package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DATABASE_DSN", "KEYSTORE_PATH", "BLOB_BACKEND", "INTEGRITY_THRESHOLD"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.DatabaseDSN != "file:custody.db" {
		t.Errorf("dsn = %s", cfg.DatabaseDSN)
	}
	if cfg.BlobBackend != BlobBackendFile {
		t.Errorf("backend = %s", cfg.BlobBackend)
	}
	if cfg.IntegrityThreshold != DefaultIntegrityThreshold {
		t.Errorf("threshold = %v", cfg.IntegrityThreshold)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://custody:secret@db/custody")
	t.Setenv("BLOB_BACKEND", "s3")
	t.Setenv("BLOB_S3_BUCKET", "evidence-blobs")
	t.Setenv("INTEGRITY_THRESHOLD", "0.95")

	cfg := Load()
	if cfg.DatabaseDSN != "postgres://custody:secret@db/custody" {
		t.Errorf("dsn = %s", cfg.DatabaseDSN)
	}
	if cfg.BlobBackend != BlobBackendS3 || cfg.S3Bucket != "evidence-blobs" {
		t.Errorf("s3 config = %s/%s", cfg.BlobBackend, cfg.S3Bucket)
	}
	if cfg.IntegrityThreshold != 0.95 {
		t.Errorf("threshold = %v", cfg.IntegrityThreshold)
	}
}

func TestInvalidThresholdIgnored(t *testing.T) {
	t.Setenv("INTEGRITY_THRESHOLD", "1.7")
	if got := Load().IntegrityThreshold; got != DefaultIntegrityThreshold {
		t.Errorf("threshold = %v, want default", got)
	}

	t.Setenv("INTEGRITY_THRESHOLD", "not-a-number")
	if got := Load().IntegrityThreshold; got != DefaultIntegrityThreshold {
		t.Errorf("threshold = %v, want default", got)
	}
}

func TestLoadProfileOverlay(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("INTEGRITY_THRESHOLD", "")

	path := filepath.Join(t.TempDir(), "profile.yaml")
	profile := []byte("database_dsn: file:profiled.db\nintegrity_threshold: 0.9\npackage_dir: /srv/packages\n")
	if err := os.WriteFile(path, profile, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Load()
	if err := cfg.LoadProfile(path); err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if cfg.DatabaseDSN != "file:profiled.db" {
		t.Errorf("dsn = %s", cfg.DatabaseDSN)
	}
	if cfg.IntegrityThreshold != 0.9 {
		t.Errorf("threshold = %v", cfg.IntegrityThreshold)
	}
	if cfg.PackageDir != "/srv/packages" {
		t.Errorf("package dir = %s", cfg.PackageDir)
	}
	// Unlisted fields keep their previous values.
	if cfg.BlobBackend != BlobBackendFile {
		t.Errorf("backend = %s", cfg.BlobBackend)
	}
}

func TestLoadProfileMissingFile(t *testing.T) {
	cfg := Load()
	if err := cfg.LoadProfile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing profile")
	}
}
