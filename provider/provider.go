// Package provider defines the byte store behind the spill tier.
//
// When a cache entry is evicted, querysync may encode it and hand it to a
// Provider with a TTL; if the key is requested again before the TTL runs out
// and its generation has not moved, the spilled value seeds the new entry as
// stale data while a refetch runs.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// []byte previously passed to Set. The "spill:<ns>:" keyspace is owned by
// querysync; foreign values under it are treated as corrupt and deleted.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs, safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
