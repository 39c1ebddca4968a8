// Package coord provides the shared key/value coordination store used for
// payment sessions, cooldown claims, cancellation flags and scheduler locks.
//
// Every mutation that more than one process may race on goes through an
// atomic primitive (SetNX or CompareAndDelete). Plain read-then-write
// sequences are never used for shared state.
package coord

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired.
var ErrNotFound = errors.New("coord: key not found")

// Store is a low-latency key/value store with TTLs and atomic conditional writes.
type Store interface {
	// SetNX stores value under key only if the key is absent. It reports
	// whether this caller won the write.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set stores value under key unconditionally. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// TTL returns the remaining lifetime of key, or ErrNotFound. Keys without
	// an expiry report zero.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// CompareAndDelete removes key only if it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// Sweeper is implemented by stores that need explicit purging of expired
// entries. Stores with native expiry do not implement it.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}
