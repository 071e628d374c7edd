// Package genstore fences cache writes with per-key generation counters.
//
// Writers and invalidations bump a key. A loader snapshots the key before it
// goes remote and stores its result only while the snapshot is still the
// current value, so a load that raced an invalidation is served to its
// callers but never cached.
package genstore

import (
	"context"
	"time"
)

// GenStore is the counter table. Unknown keys read as zero.
type GenStore interface {
	Snapshot(ctx context.Context, key string) (uint64, error)
	// SnapshotMany reads every key in one pass; the result has an entry per
	// input key.
	SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error)
	// Bump returns the incremented value.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup forgets keys idle for longer than retention.
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
