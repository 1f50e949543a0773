// Package sha256 names archived page snapshots by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct {
	// Prefix truncates digests to this many hex characters when > 0.
	Prefix int
}

// New returns a SHA-256 hasher producing full-length digests.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a (possibly truncated) hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.Prefix > 0 && h.Prefix < len(digest) {
		digest = digest[:h.Prefix]
	}
	return digest, nil
}
