// Package md5 provides the MD5 digests used as article ids.
package md5

import (
	"crypto/md5" //nolint:gosec // ids, not integrity
	"encoding/hex"
)

// Hasher implements crawler.Hasher using MD5.
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(string(data)), nil
}

// Sum returns the hex MD5 digest of s.
func Sum(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // ids, not integrity
	return hex.EncodeToString(sum[:])
}
