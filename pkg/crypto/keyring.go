package crypto

import "sync"

// KeyRing verifies signatures against any known key. Appends always sign
// with the active key; verification must tolerate rotated-out keys because
// old ledger entries keep their original signatures forever.
type KeyRing struct {
	mu      sync.RWMutex
	signers map[string]Signer
}

// NewKeyRing creates an empty KeyRing.
func NewKeyRing() *KeyRing {
	return &KeyRing{signers: make(map[string]Signer)}
}

// Add registers a signer under its key ID.
func (k *KeyRing) Add(s Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.KeyID()] = s
}

// Verify checks data against every known key and reports whether any
// of them produced the signature.
func (k *KeyRing) Verify(data []byte, sigHex string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, s := range k.signers {
		if s.Verify(data, sigHex) {
			return true
		}
	}
	return false
}

// Len returns the number of registered keys.
func (k *KeyRing) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.signers)
}
