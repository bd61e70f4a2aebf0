// Package genstore keeps per-key generation counters.
//
// querysync bumps the generation of a key prefix whenever entries under it are
// invalidated, removed, reset or mutated. A spilled entry records the sum of
// the generations of all its prefixes; if the sum moved, the spill is stale.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// LocalGenStore is the default; RedisGenStore shares them through Redis.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// SnapshotMany returns gens for many keys; missing => 0.
	SnapshotMany(ctx context.Context, storageKeys []string) (map[string]uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}

// Sum returns the sum of the generations of keys. Generations only grow,
// so the sum changes whenever any member is bumped.
func Sum(ctx context.Context, s GenStore, keys []string) (uint64, error) {
	m, err := s.SnapshotMany(ctx, keys)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, k := range keys {
		total += m[k]
	}
	return total, nil
}
