package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the key does not exist or has expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store: store is closed")
)

// Store is the interface for the backing key-value store.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: every method must honor cancellation/deadlines.
// - Errors: Get returns ErrNotFound on miss; Delete is idempotent.
// - Expiry: a value written with a positive TTL is expired by the store
//   itself; after expiry Get returns ErrNotFound.
type Store interface {
	// Get retrieves the value for key. Returns ErrNotFound on miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. TTL<=0 means the key never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	// Returns the number of keys actually removed.
	Delete(ctx context.Context, keys ...string) (int64, error)

	// Scan returns all keys matching the glob pattern.
	Scan(ctx context.Context, pattern string) ([]string, error)
}
