// Package sha256 provides SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct {
	width int
}

// New returns a SHA-256 hasher producing the full hex digest.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated returns a hasher that keeps only the first width hex characters.
// The frontier uses it for URL identities, where a short prefix is enough and
// the seen-set stays small.
func NewTruncated(width int) (*Hasher, error) {
	if width <= 0 || width > hex.EncodedLen(sha256.Size) {
		return nil, fmt.Errorf("hash width must be in [1,%d], got %d", hex.EncodedLen(sha256.Size), width)
	}
	return &Hasher{width: width}, nil
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.width > 0 {
		digest = digest[:h.width]
	}
	return digest, nil
}
