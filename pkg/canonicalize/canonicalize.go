// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization so that fingerprints of structured payloads are
// reproducible byte-for-byte across processes and implementations.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
// v is first marshaled with encoding/json (respecting struct tags), then
// transformed into canonical form: keys sorted by UTF-16 code units, no
// insignificant whitespace, shortest-form numbers, no HTML escaping.
func JCS(v interface{}) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return canonical, nil
}

// Fingerprint returns the SHA-256 hex digest of the canonical JSON form
// of v. This is the evidence fingerprint format.
func Fingerprint(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// FingerprintRaw canonicalizes already-serialized JSON and hashes it.
func FingerprintRaw(raw []byte) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("jcs: transform failed: %w", err)
	}
	return HashBytes(canonical), nil
}

// HashBytes computes the SHA-256 hash of raw bytes as a hex string.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
