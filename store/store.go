// Package store defines the backing store abstraction used by kvstate.
//
// A Store is the Go counterpart of browser local storage or a cookie jar: a
// process-wide key -> bytes map with optional per-entry expiry. Implementations
// MUST be byte-for-byte transparent: Get must return exactly the bytes that
// were previously passed to Set for a key. If a store performs internal
// transforms (envelopes, escaping), they MUST be fully reversed on Get.
//
// Stores are shared resources. Concurrent writers on the same key are
// last-write-wins; no store in this module provides cross-writer locking.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when a store cannot serve requests in the
// current context (closed, or no jar bound). Callers treat it as
// "no backing store" and fall back to in-memory state.
var ErrUnavailable = errors.New("store: unavailable")

// Store is a minimal byte store with TTLs.
// Must be safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL; ttl<=0 means no expiry.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Days converts a cookie-style "days until expiration" into a TTL.
// Non-positive values mean no expiry.
func Days(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * 24 * time.Hour
}
