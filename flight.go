package storecache

import (
	"context"
	"fmt"

	"github.com/yigitcankzl/storecache/internal/util"
)

// call is one in-flight remote read. It may cover a single key or a batch;
// either way every key it covers is registered under its full key in
// s.inflight, so any later Get or GetBatch for that key waits on it instead
// of reading again. raws and err are written once, before done is closed.
type call struct {
	name     string
	dataType string
	keys     []string
	gens     map[string]uint64 // full key -> generation when the call started
	done     chan struct{}

	raws map[string][]byte
	err  error
}

// fetchResult is what a single-key wait hands back.
type fetchResult struct {
	raw []byte
	ok  bool
}

// startCallLocked registers a call for keys, none of which may already be in
// flight. s.mu must be held.
func (s *Store) startCallLocked(ctx context.Context, name, dataType string, keys []string) *call {
	fks := make([]string, len(keys))
	for i, k := range keys {
		fks[i] = fullKey(dataType, k)
	}
	gens, _ := s.gens.SnapshotMany(ctx, fks)
	c := &call{name: name, dataType: dataType, keys: keys, gens: gens, done: make(chan struct{})}
	for _, fk := range fks {
		s.inflight[fk] = c
	}
	return c
}

// runCall performs c's remote read, caches what came back (each key fenced
// by its own generation), retires c's registrations and wakes its waiters.
func (s *Store) runCall(ctx context.Context, c *call, load func(ctx context.Context, keys []string) (map[string][]byte, error)) {
	got, err := safeLoad(ctx, c, load)
	var raws map[string][]byte
	if err == nil {
		raws = make(map[string][]byte, len(got))
		for _, k := range c.keys {
			raw, ok := got[k]
			if !ok {
				continue
			}
			raws[k] = raw
			s.storeFetched(ctx, c.dataType, k, raw, c.gens[fullKey(c.dataType, k)])
		}
	}

	s.mu.Lock()
	for _, k := range c.keys {
		fk := fullKey(c.dataType, k)
		if s.inflight[fk] == c {
			delete(s.inflight, fk)
		}
	}
	s.mu.Unlock()

	c.raws, c.err = raws, err
	close(c.done)
}

func safeLoad(ctx context.Context, c *call, load func(ctx context.Context, keys []string) (map[string][]byte, error)) (got map[string][]byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("storecache: fetch %s panicked: %v", c.name, r)
		}
	}()
	return load(ctx, c.keys)
}

// wait blocks until c settles or ctx ends.
func (c *call) wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forgetFlightsLocked detaches every in-flight key that matches and moves
// those keys' generations, so a detached call can no longer store its result
// for them. Callers already waiting still get the result, but the next lookup
// for that key starts a fresh fetch. s.mu must be held.
func (s *Store) forgetFlightsLocked(ctx context.Context, match func(fullKey, dataType string) bool) {
	for fk, c := range s.inflight {
		if match(fk, c.dataType) {
			_, _ = s.gens.Bump(ctx, fk)
			delete(s.inflight, fk)
		}
	}
}

// fetchOnce runs load for (dataType, key) unless a read covering that key is
// already in flight, single or batch, in which case it waits for that one.
// load gets a context that is never canceled by this caller: a caller whose
// ctx ends stops waiting and returns ctx.Err(), while the fetch itself runs to
// completion for anyone else sharing it. shared reports that the caller
// joined a read somebody else started.
func (s *Store) fetchOnce(
	ctx context.Context,
	dataType, key string,
	load func(ctx context.Context) ([]byte, bool, error),
) (res fetchResult, shared bool, err error) {
	fk := fullKey(dataType, key)
	detached := context.WithoutCancel(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fetchResult{}, false, ErrClosed
	}
	c, shared := s.inflight[fk]
	if !shared {
		c = s.startCallLocked(detached, fk, dataType, []string{key})
	}
	s.mu.Unlock()

	if !shared {
		go s.runCall(detached, c, func(ctx context.Context, _ []string) (map[string][]byte, error) {
			raw, ok, err := load(ctx)
			if err != nil || !ok {
				return nil, err
			}
			return map[string][]byte{key: raw}, nil
		})
	}

	if err := c.wait(ctx); err != nil {
		return fetchResult{}, shared, err
	}
	raw, ok := c.raws[key]
	return fetchResult{raw: raw, ok: ok}, shared, nil
}

// fetchBatchOnce is fetchOnce for a set of keys. Keys some other read already
// covers are waited on; only the rest go to load, in the given order, as one
// call that later Gets and GetBatches join per key. keys must be
// deduplicated. The returned map holds raw payloads of the keys that came
// back, restricted to keys. An error from any read the caller depends on
// fails the whole call.
func (s *Store) fetchBatchOnce(
	ctx context.Context,
	dataType string,
	keys []string,
	load func(ctx context.Context, keys []string) (map[string][]byte, error),
) (raws map[string][]byte, shared bool, err error) {
	detached := context.WithoutCancel(ctx)

	var (
		own    []string
		joined = make(map[*call][]string)
	)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, ErrClosed
	}
	for _, k := range keys {
		if c, ok := s.inflight[fullKey(dataType, k)]; ok {
			joined[c] = append(joined[c], k)
			continue
		}
		own = append(own, k)
	}
	var mine *call
	if len(own) > 0 {
		mine = s.startCallLocked(detached, util.SetKey("batch:"+dataType, own), dataType, own)
	}
	s.mu.Unlock()

	if mine != nil {
		go s.runCall(detached, mine, load)
		joined[mine] = own
	}
	if len(joined) > 1 || mine == nil {
		shared = true
		s.log.Debug("batch joined in-flight reads", Fields{"dataType": dataType, "calls": len(joined), "fetching": len(own)})
	}

	raws = make(map[string][]byte, len(keys))
	for c, ks := range joined {
		if err := c.wait(ctx); err != nil {
			return nil, shared, err
		}
		for _, k := range ks {
			if raw, ok := c.raws[k]; ok {
				raws[k] = raw
			}
		}
	}
	return raws, shared, nil
}

// Pending returns the number of remote reads currently in flight (single and
// batch) across all dataTypes.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *Store) pendingLocked() int {
	seen := make(map[*call]struct{}, len(s.inflight))
	for _, c := range s.inflight {
		seen[c] = struct{}{}
	}
	return len(seen)
}
