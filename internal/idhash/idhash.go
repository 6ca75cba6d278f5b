// Package idhash provides the truncatedHash primitive used throughout the
// data model (spec §3) to derive deterministic nodeId/leafId values from
// their constituent fields. The spec leaves the exact truncation open; this
// package fixes it at the first 16 hex characters (64 bits) of SHA-256,
// which keeps ids short while leaving collision probability negligible at
// the vault sizes the engine targets.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
)

// TruncatedHash hashes parts joined with a NUL separator (so "ab","c" and
// "a","bc" never collide) and returns the first 16 hex characters.
func TruncatedHash(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

// Hex returns the full hex-encoded SHA-256 digest of data, used for leaf
// textHash per spec §3.
func Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
