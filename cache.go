package storecache

import (
	"context"
	"errors"

	"github.com/yigitcankzl/storecache/codec"
)

// Cache is a typed view of one dataType in a Store. Values are held encoded
// by the codec, so every read returns a fresh copy and callers can never
// mutate cached state by reference.
type Cache[T any] struct {
	s     *Store
	dt    string
	codec codec.Codec[T]
}

// NewCache binds dataType to record type T. Several Cache values may share a
// dataType as long as they agree on T and the codec.
func NewCache[T any](s *Store, dataType string, c codec.Codec[T]) (*Cache[T], error) {
	if s == nil {
		return nil, errors.New("storecache: nil store")
	}
	if dataType == "" {
		return nil, errors.New("storecache: empty dataType")
	}
	if c == nil {
		return nil, errors.New("storecache: nil codec")
	}
	return &Cache[T]{s: s, dt: dataType, codec: c}, nil
}

func (c *Cache[T]) DataType() string { return c.dt }
func (c *Cache[T]) Store() *Store    { return c.s }

// Codec returns the codec values of this dataType are stored with.
func (c *Cache[T]) Codec() codec.Codec[T] { return c.codec }

// Get returns the cached value for key, or runs fetch once for all
// concurrent callers and caches its result. ok=false from fetch is passed
// through and not cached. A fetch error is returned to every waiting caller
// and nothing is cached.
func (c *Cache[T]) Get(ctx context.Context, key string, fetch FetchFunc[T]) (T, bool, error) {
	var zero T

	if v, ok, err := c.cached(ctx, key); err != nil {
		return zero, false, err
	} else if ok {
		c.s.hooks.Hit(c.dt)
		c.s.stats.of(c.dt).hits.Inc()
		return v, true, nil
	}
	c.s.hooks.Miss(c.dt)
	c.s.stats.of(c.dt).misses.Inc()

	res, shared, err := c.s.fetchOnce(ctx, c.dt, key, func(ctx context.Context) ([]byte, bool, error) {
		v, ok, err := fetch(ctx)
		if err != nil || !ok {
			return nil, false, err
		}
		raw, err := c.codec.Encode(v)
		if err != nil {
			return nil, false, &EncodeError{DataType: c.dt, Key: key, Err: err}
		}
		return raw, true, nil
	})
	if shared {
		c.s.hooks.Coalesced(c.dt)
		c.s.stats.of(c.dt).coalesced.Inc()
	}
	if err != nil || !res.ok {
		return zero, false, err
	}

	v, err := c.codec.Decode(res.raw)
	if err != nil {
		c.s.remove(ctx, c.dt, key)
		return zero, false, &DecodeError{DataType: c.dt, Key: key, Err: err}
	}
	return v, true, nil
}

// cached decodes a live entry. An entry that no longer decodes is dropped
// and reported as a miss so the caller refetches it.
func (c *Cache[T]) cached(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, ok, err := c.s.lookup(c.dt, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := c.codec.Decode(raw)
	if err != nil {
		c.selfHeal(ctx, key, "value_decode", err)
		return zero, false, nil
	}
	return v, true, nil
}

func (c *Cache[T]) selfHeal(ctx context.Context, key, reason string, err error) {
	c.s.remove(ctx, c.dt, key)
	c.s.hooks.SelfHeal(c.dt, key, reason)
	c.s.log.Warn("self-heal: dropped undecodable entry", Fields{"dataType": c.dt, "key": key, "reason": reason, "err": err})
}

// Peek returns a live cached value without fetching and without marking it
// as recently used.
func (c *Cache[T]) Peek(key string) (T, bool) {
	var zero T
	raw, ok := c.s.peek(c.dt, key)
	if !ok {
		return zero, false
	}
	v, err := c.codec.Decode(raw)
	if err != nil {
		return zero, false
	}
	return v, true
}

// Set stores v under key, replacing any previous value and refreshing its
// age. A fetch for key that started before Set will not overwrite v.
func (c *Cache[T]) Set(ctx context.Context, key string, v T) error {
	raw, err := c.codec.Encode(v)
	if err != nil {
		return &EncodeError{DataType: c.dt, Key: key, Err: err}
	}
	return c.s.set(ctx, c.dt, key, raw, true)
}

// Stage is Set without persistence: v is visible to readers of this process
// but the persisted mirror keeps whatever it held for key. It suits values
// that are not confirmed yet and must not survive a restart.
func (c *Cache[T]) Stage(ctx context.Context, key string, v T) error {
	raw, err := c.codec.Encode(v)
	if err != nil {
		return &EncodeError{DataType: c.dt, Key: key, Err: err}
	}
	return c.s.set(ctx, c.dt, key, raw, false)
}

// Fence returns a token that moves whenever a Set, Delete or Invalidate can
// have touched this dataType. Take it before a remote read whose results are
// then cached with StoreFenced.
func (c *Cache[T]) Fence() uint64 { return c.s.fence(c.dt) }

// StoreFenced caches v, read remotely, under key iff nothing wrote to or
// invalidated this dataType since fence was taken. It reports whether v was
// stored. Unlike Set it does not fence out fetches already running for key.
func (c *Cache[T]) StoreFenced(ctx context.Context, key string, v T, fence uint64) (bool, error) {
	raw, err := c.codec.Encode(v)
	if err != nil {
		return false, &EncodeError{DataType: c.dt, Key: key, Err: err}
	}
	return c.s.storeFenced(ctx, c.dt, key, raw, fence), nil
}

// Delete removes exactly key. It reports whether an entry was present.
// An in-flight fetch for key is detached and its result is not cached.
func (c *Cache[T]) Delete(ctx context.Context, key string) bool {
	return c.s.remove(ctx, c.dt, key)
}

// Invalidate is Store.Invalidate scoped to this dataType.
func (c *Cache[T]) Invalidate(ctx context.Context, pattern string) int {
	return c.s.Invalidate(ctx, pattern, c.dt)
}

// Len returns the number of entries cached for this dataType.
func (c *Cache[T]) Len() int { return c.s.Len(c.dt) }
