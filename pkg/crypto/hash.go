package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// HashPrefix marks SHA-256 content hashes in manifests and blob keys.
const HashPrefix = "sha256:"

// HashBytes computes a prefixed SHA-256 hash of raw bytes.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(h[:])
}

// Hasher accumulates a SHA-256 content hash as bytes stream through, so
// content of any size hashes in constant memory.
type Hasher struct {
	h hash.Hash
}

// NewHasher creates a streaming content hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (s *Hasher) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// Sum returns the prefixed content hash of everything written so far.
func (s *Hasher) Sum() string {
	return HashPrefix + hex.EncodeToString(s.h.Sum(nil))
}

// HashReader streams r through SHA-256 and returns the prefixed digest and
// the number of bytes consumed. Attachments are hashed this way so large
// files never need to fit in memory.
func HashReader(r io.Reader) (string, int64, error) {
	h := NewHasher()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("hash stream failed: %w", err)
	}
	return h.Sum(), n, nil
}

// HashFile streams the file at path through SHA-256.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path) //nolint:gosec // caller-supplied evidence path
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return HashReader(f)
}
