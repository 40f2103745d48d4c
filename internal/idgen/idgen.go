// Package idgen mints crypto-random identifiers. Entities carry a short type
// prefix ("sess_", "fpe_", "aud_", "ord_") so an id is self-describing in
// logs and audit rows.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix returns prefix followed by 24 hex characters (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex returns numBytes of randomness, hex encoded.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the platform RNG is broken
		panic("idgen: " + err.Error())
	}
	return hex.EncodeToString(b)
}
