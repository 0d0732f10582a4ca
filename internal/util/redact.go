package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// Redact returns a short stable digest of a storage key so logs can correlate
// events without exposing the key (keys may embed user identifiers).
func Redact(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
