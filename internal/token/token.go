// Package token mints the opaque credentials used by the gate: one-time claim
// secrets and long-lived device tokens. Both share the same format and entropy;
// they are distinguished only by where the gate stores and accepts them.
package token

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"github.com/google/uuid"
)

// MinDeviceLength is the shortest device token the gate will honor. Records
// migrated from older shapes can carry short or empty tokens; those are treated
// as unbound rather than trusted.
const MinDeviceLength = 16

// Mint returns a new opaque credential: a UUID joined to 32 bytes of
// crypto/rand output, hex encoded. Unguessable without the process entropy
// source; collision probability is negligible.
func Mint() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; if it does the
		// process cannot safely issue credentials at all.
		panic("token: entropy source unavailable: " + err.Error())
	}
	return uuid.NewString() + "." + hex.EncodeToString(buf)
}

// Equal compares two credentials in constant time. Length is checked first
// (lengths are not secret here: all minted credentials share one format), then
// every byte is XOR-accumulated without short-circuiting on mismatch.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
