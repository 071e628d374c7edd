// Package pebble stores persisted cache entries in a cockroachdb/pebble
// database on local disk.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/yigitcankzl/storecache/persist"
)

type Options struct {
	Dir string
	// FS overrides the filesystem, e.g. vfs.NewMem() in tests.
	FS vfs.FS
	// Sync makes every write durable before it returns. The mirror is best
	// effort, so the default leaves fsync to pebble's WAL policy.
	Sync bool
}

type Backend struct {
	db   *pebble.DB
	wo   *pebble.WriteOptions
	once sync.Once
}

var _ persist.Backend = (*Backend)(nil)

func Open(opts Options) (*Backend, error) {
	if opts.Dir == "" {
		return nil, errors.New("pebble backend: Dir is required")
	}
	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	db, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opts.Dir, err)
	}
	wo := pebble.NoSync
	if opts.Sync {
		wo = pebble.Sync
	}
	return &Backend{db: db, wo: wo}, nil
}

func (b *Backend) Put(_ context.Context, key string, blob []byte) error {
	return b.db.Set([]byte(key), blob, b.wo)
}

func (b *Backend) GetAll(ctx context.Context, prefix string) ([]persist.KV, error) {
	iter, err := b.db.NewIterWithContext(ctx, &pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var out []persist.KV
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Key and Value are only valid until the next step.
		out = append(out, persist.KV{
			Key:  string(iter.Key()),
			Blob: append([]byte(nil), iter.Value()...),
		})
	}
	return out, iter.Error()
}

func (b *Backend) Delete(_ context.Context, keys ...string) error {
	switch len(keys) {
	case 0:
		return nil
	case 1:
		return b.db.Delete([]byte(keys[0]), b.wo)
	}
	batch := b.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		if err := batch.Delete([]byte(k), nil); err != nil {
			return err
		}
	}
	return batch.Commit(b.wo)
}

// Close flushes memtables and closes the database. pebble panics on use
// after close, so only the first call does anything.
func (b *Backend) Close() error {
	var err error
	b.once.Do(func() {
		if ferr := b.db.Flush(); ferr != nil {
			err = ferr
		}
		if cerr := b.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
