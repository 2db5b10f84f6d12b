// Package blob implements content-addressed storage for evidence
// attachments. Files are keyed by their SHA-256 hash; the file manifest on
// an evidence record is the sole source of truth for identity, and the
// storage backend is an implementation detail.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cybershield/custody/pkg/crypto"
)

// ErrNotFound indicates no blob exists for the given content hash.
var ErrNotFound = errors.New("blob not found")

// Store is the contract for content-addressed attachment storage.
// Put streams data in and returns the "sha256:"-prefixed content hash and
// the stored size; Open streams data back out.
type Store interface {
	Put(ctx context.Context, r io.Reader) (hash string, size int64, err error)
	Open(ctx context.Context, hash string) (io.ReadCloser, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// parseHash validates a prefixed content hash and returns the bare hex.
func parseHash(hash string) (string, error) {
	if !strings.HasPrefix(hash, crypto.HashPrefix) {
		return "", fmt.Errorf("invalid hash format: %s", hash)
	}
	raw := hash[len(crypto.HashPrefix):]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid hash hex: %w", err)
	}
	return raw, nil
}

// FileStore is a filesystem-backed Store. Blobs land at <dir>/<hash>.blob
// via a temp file and atomic rename, so a crashed Put never leaves a
// partially written blob under its final name.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a content-addressed store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure blob dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.baseDir, "put-*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	hasher := crypto.NewHasher()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("failed to write blob: %w", err)
	}

	hash := hasher.Sum()
	final := filepath.Join(s.baseDir, strings.TrimPrefix(hash, crypto.HashPrefix)+".blob")

	// Idempotent: identical content already stored.
	if _, err := os.Stat(final); err == nil {
		return hash, n, nil
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return "", 0, fmt.Errorf("failed to commit blob: %w", err)
	}
	return hash, n, nil
}

func (s *FileStore) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	raw, err := parseHash(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.baseDir, raw+".blob")) //nolint:gosec // hash validated as hex
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	raw, err := parseHash(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(s.baseDir, raw+".blob"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob: %w", err)
}
