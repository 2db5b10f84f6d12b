package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrKeystoreMissing indicates no keystore exists at the configured path.
// Callers must treat this as fatal; signing never degrades to a weaker
// scheme.
var ErrKeystoreMissing = errors.New("signing keystore not found")

// Keystore is the on-disk JSON format for persisted signing keys.
type Keystore struct {
	ActiveKeyID string            `json:"active_key_id"`
	Keys        map[string]string `json:"keys"` // key_id -> hex-encoded ed25519 seed
}

// LoadKeystore loads the active signing key from a keystore file.
// It fails hard on a missing file, unreadable JSON, or a malformed key.
func LoadKeystore(path string) (*Ed25519Signer, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-configured path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeystoreMissing, path)
		}
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}

	var ks Keystore
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}
	if ks.ActiveKeyID == "" {
		return nil, fmt.Errorf("keystore %s has no active key", path)
	}

	seedHex, ok := ks.Keys[ks.ActiveKeyID]
	if !ok {
		return nil, fmt.Errorf("keystore %s missing active key %q", path, ks.ActiveKeyID)
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("key %q is not valid hex: %w", ks.ActiveKeyID, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key %q has seed size %d, want %d", ks.ActiveKeyID, len(seed), ed25519.SeedSize)
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return NewEd25519SignerFromKey(priv, ks.ActiveKeyID), nil
}

// LoadVerificationKeyRing loads every key in the keystore into a KeyRing so
// that entries signed before a rotation still verify.
func LoadVerificationKeyRing(path string) (*KeyRing, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-configured path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrKeystoreMissing, path)
		}
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}

	var ks Keystore
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}

	ring := NewKeyRing()
	for keyID, seedHex := range ks.Keys {
		seed, err := hex.DecodeString(seedHex)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("keystore key %q is malformed", keyID)
		}
		ring.Add(NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed), keyID))
	}
	return ring, nil
}

// WriteKeystore persists a keystore with a single freshly generated key.
// Used by operator bootstrap tooling, never implicitly at engine startup.
func WriteKeystore(path, keyID string) (*Ed25519Signer, error) {
	signer, err := NewEd25519Signer(keyID)
	if err != nil {
		return nil, err
	}

	ks := Keystore{
		ActiveKeyID: keyID,
		Keys: map[string]string{
			keyID: hex.EncodeToString(signer.privKey.Seed()),
		},
	}
	raw, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode keystore: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create keystore dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write keystore: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("failed to commit keystore: %w", err)
	}
	return signer, nil
}
