// Package idgen generates cryptographically random identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix + 24 random hex chars, e.g. "vrd_3f9a..."
// for verdict IDs or "req_81c2..." for request IDs.
func WithPrefix(prefix string) string {
	return prefix + randomHex(12)
}

// New returns 32 random hex chars with no prefix.
func New() string {
	return randomHex(16)
}

func randomHex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
