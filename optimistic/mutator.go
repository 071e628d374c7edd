// Package optimistic applies speculative changes to cached aggregates.
//
// Mutate makes the new state visible in the cache at once, then performs the
// remote write. The speculative state is staged in memory only and never
// reaches a persisted mirror. When the write succeeds the key is dropped so
// the next read fetches the authoritative state; when it fails the
// pre-mutation snapshot is put back and the error is returned wrapped in
// *WriteError.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/yigitcankzl/storecache"
	"github.com/yigitcankzl/storecache/codec"
)

// WriteError is returned by Mutate when the remote write failed. By the time
// it is returned the cache shows the pre-mutation state again.
type WriteError struct {
	Key        string
	MutationID string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("optimistic: write %s (mutation %s): %v", e.Key, e.MutationID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Result describes a finished mutation. Before is the snapshot the
// transform saw (zero when Existed is false) and Applied is the state that
// was made visible and written.
type Result[T any] struct {
	MutationID string
	Before     T
	Existed    bool
	Applied    T
}

// Options configure a Mutator. Every field is optional.
type Options struct {
	Logger storecache.Logger // nil => NopLogger
	Hooks  storecache.Hooks  // nil => NopHooks
	NewID  func() string     // nil => random UUID
}

// Mutator runs optimistic mutations against one Cache. Mutations of the same
// key run one after another so that a snapshot is never taken from another
// mutation's speculative state. Different keys proceed in parallel.
type Mutator[T any] struct {
	c     *storecache.Cache[T]
	log   storecache.Logger
	hooks storecache.Hooks
	newID func() string

	lklk  sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	lk      sync.Mutex
	waiters atomic.Int32
}

// New returns a Mutator over c.
func New[T any](c *storecache.Cache[T], opts Options) *Mutator[T] {
	m := &Mutator[T]{
		c:     c,
		log:   opts.Logger,
		hooks: opts.Hooks,
		newID: opts.NewID,
		locks: make(map[string]*keyLock),
	}
	if m.log == nil {
		m.log = storecache.NopLogger{}
	}
	if m.hooks == nil {
		m.hooks = storecache.NopHooks{}
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// lock serializes mutations per key. The returned func releases it.
func (m *Mutator[T]) lock(key string) func() {
	m.lklk.Lock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{}
		m.locks[key] = kl
	}
	kl.waiters.Add(1)
	m.lklk.Unlock()

	kl.lk.Lock()

	return func() {
		m.lklk.Lock()
		defer m.lklk.Unlock()

		kl.lk.Unlock()
		if kl.waiters.Add(-1) == 0 {
			delete(m.locks, key)
		}
	}
}

// Mutate applies transform to the current state of key and writes the result.
//
// The current state is read through the cache (load runs on a miss). A
// transform error aborts before anything changes. Otherwise the transformed
// state is stored in the cache and write is called with it:
//   - write succeeds: key is removed from the cache so the next read is
//     served by the remote store.
//   - write fails: the snapshot is restored (or key removed if there was
//     none) and a *WriteError wrapping the write error is returned.
func (m *Mutator[T]) Mutate(
	ctx context.Context,
	key string,
	load storecache.FetchFunc[T],
	transform func(cur T) (T, error),
	write func(ctx context.Context, next T) error,
) (Result[T], error) {
	unlock := m.lock(key)
	defer unlock()

	res := Result[T]{MutationID: m.newID()}

	snap, existed, err := m.c.Get(ctx, key, load)
	if err != nil {
		return res, err
	}
	res.Before, res.Existed = snap, existed

	// transform gets its own copy so it may modify what it is given.
	cur, err := codec.Clone(m.c.Codec(), snap)
	if err != nil {
		return res, err
	}
	next, err := transform(cur)
	if err != nil {
		return res, err
	}
	res.Applied = next

	if err := m.c.Stage(ctx, key, next); err != nil {
		return res, err
	}
	m.publish(storecache.EventApplied, key, res.MutationID, nil)

	if werr := write(ctx, next); werr != nil {
		m.rollback(ctx, key, res, werr)
		return res, &WriteError{Key: key, MutationID: res.MutationID, Err: werr}
	}

	m.c.Delete(ctx, key)
	m.publish(storecache.EventCommitted, key, res.MutationID, nil)
	return res, nil
}

func (m *Mutator[T]) rollback(ctx context.Context, key string, res Result[T], werr error) {
	dt := m.c.DataType()
	var rerr error
	if res.Existed {
		rerr = m.c.Set(ctx, key, res.Before)
	} else {
		m.c.Delete(ctx, key)
	}
	if rerr != nil {
		// The speculative value must not outlive a failed write.
		m.c.Delete(ctx, key)
		if errors.Is(rerr, storecache.ErrClosed) {
			return
		}
		m.log.Error("rollback restore failed; entry dropped", storecache.Fields{"dataType": dt, "key": key, "err": rerr})
	}

	m.hooks.RolledBack(dt, key, werr)
	m.log.Warn("optimistic write failed; rolled back", storecache.Fields{
		"dataType": dt, "key": key, "mutation": res.MutationID, "err": werr,
	})
	m.publish(storecache.EventRolledBack, key, res.MutationID, werr)
}

func (m *Mutator[T]) publish(kind storecache.EventKind, key, id string, err error) {
	m.c.Store().Publish(storecache.Event{
		Kind:       kind,
		DataType:   m.c.DataType(),
		Key:        key,
		MutationID: id,
		Err:        err,
	})
}
