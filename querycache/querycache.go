// Package querycache caches list/query results (a page of records for one
// filter) in a byte provider such as Ristretto, BigCache or Redis.
//
// Query results cannot be invalidated key by key: any product change may
// move any page. Every entry is therefore stamped with the namespace epoch
// it was computed under, and InvalidateAll simply bumps the epoch. Entries
// from an older epoch are deleted the next time they are read.
//
// Keys:
//
//	list:<ns>:<hash>  - one query result
//	epoch:<ns>        - generation key in the GenStore
//
// CAS pattern:
//
//	obs := qc.SnapshotGen()              // before the remote query
//	page := runQuery(filter)
//	_ = qc.SetWithGen(ctx, q, page, obs, 0) // stored iff no InvalidateAll happened meanwhile
package querycache

import (
	"context"
	"fmt"
	"time"

	"github.com/yigitcankzl/storecache"
	c "github.com/yigitcankzl/storecache/codec"
	gen "github.com/yigitcankzl/storecache/genstore"
	"github.com/yigitcankzl/storecache/internal/util"
	"github.com/yigitcankzl/storecache/internal/wire"
	pr "github.com/yigitcankzl/storecache/provider"
)

const defaultTTL = 2 * time.Minute

type SetCostFunc func(key string, raw []byte) int64

// Options tune the query cache. Namespace, Provider and Codec are required.
type Options[V any] struct {
	Namespace string // e.g. "productList"
	Provider  pr.Provider
	Codec     c.Codec[V]

	Logger         storecache.Logger // nil => NopLogger
	Hooks          storecache.Hooks  // nil => NopHooks
	DefaultTTL     time.Duration     // 0 => 2m
	Disabled       bool
	ComputeSetCost SetCostFunc  // default: len(raw)
	GenStore       gen.GenStore // nil => in-process LocalGenStore
}

type Cache[V any] struct {
	ns             string
	provider       pr.Provider
	codec          c.Codec[V]
	log            storecache.Logger
	hooks          storecache.Hooks
	enabled        bool
	defaultTTL     time.Duration
	computeSetCost SetCostFunc
	gen            gen.GenStore
	ownGen         bool
}

func New[V any](opts Options[V]) (*Cache[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("querycache: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("querycache: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("querycache: namespace is required")
	}

	qc := &Cache[V]{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		enabled:  !opts.Disabled,
	}

	qc.log = storecache.WithFields(opts.Logger, storecache.Fields{"ns": opts.Namespace})
	qc.hooks = opts.Hooks
	if qc.hooks == nil {
		qc.hooks = storecache.NopHooks{}
	}
	qc.defaultTTL = opts.DefaultTTL
	if qc.defaultTTL <= 0 {
		qc.defaultTTL = defaultTTL
	}

	if opts.ComputeSetCost != nil {
		qc.computeSetCost = opts.ComputeSetCost
	} else {
		qc.computeSetCost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}

	if opts.GenStore != nil {
		qc.gen = opts.GenStore
	} else {
		qc.gen = gen.NewLocalGenStore(0, 0)
		qc.ownGen = true
	}
	return qc, nil
}

func (qc *Cache[V]) Enabled() bool { return qc.enabled }

// Close releases the provider and, when it was created here, the GenStore.
func (qc *Cache[V]) Close(ctx context.Context) error {
	if qc.ownGen {
		_ = qc.gen.Close(ctx)
	}
	return qc.provider.Close(ctx)
}

// Get returns the cached result for query if it was stored under the current
// epoch. Corrupt or stale entries are deleted and reported as a miss.
func (qc *Cache[V]) Get(ctx context.Context, query string) (V, bool, error) {
	var zero V
	if !qc.enabled {
		return zero, false, nil
	}
	k := qc.storageKey(query)
	raw, ok, err := qc.provider.Get(ctx, k)
	if err != nil || !ok {
		return zero, false, err
	}
	g, payload, err := wire.DecodePage(raw)
	if err != nil {
		qc.selfHeal(ctx, k, "corrupt")
		return zero, false, nil
	}
	if g != qc.SnapshotGen() {
		qc.selfHeal(ctx, k, "gen_mismatch")
		return zero, false, nil
	}
	v, err := qc.codec.Decode(payload)
	if err != nil {
		qc.selfHeal(ctx, k, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

// SetWithGen stores value for query iff the epoch is still observedGen.
func (qc *Cache[V]) SetWithGen(ctx context.Context, query string, value V, observedGen uint64, ttl time.Duration) error {
	if !qc.enabled {
		return nil
	}
	if ttl <= 0 {
		ttl = qc.defaultTTL
	}
	if qc.SnapshotGen() != observedGen {
		qc.log.Debug("query result skipped (epoch moved)", storecache.Fields{"obs": observedGen})
		return nil
	}
	payload, err := qc.codec.Encode(value)
	if err != nil {
		return err
	}
	k := qc.storageKey(query)
	wireb := wire.EncodePage(observedGen, payload)
	ok, err := qc.provider.Set(ctx, k, wireb, qc.computeSetCost(k, wireb), ttl)
	if err != nil {
		return err
	}
	if !ok {
		qc.log.Debug("query result rejected by provider (pressure)", nil)
	}
	return nil
}

// Invalidate drops a single query result.
func (qc *Cache[V]) Invalidate(ctx context.Context, query string) error {
	if !qc.enabled {
		return nil
	}
	return qc.provider.Del(ctx, qc.storageKey(query))
}

// InvalidateAll makes every result stored so far unreadable.
func (qc *Cache[V]) InvalidateAll(ctx context.Context) error {
	if !qc.enabled {
		return nil
	}
	g, err := qc.gen.Bump(ctx, qc.epochKey())
	if err != nil {
		qc.log.Error("epoch bump error", storecache.Fields{"err": err})
		return err
	}
	qc.log.Debug("query results invalidated", storecache.Fields{"epoch": g})
	return nil
}

// SnapshotGen returns the current epoch. A GenStore error reads as 0, so
// entries stamped with a later epoch self-heal instead of being served.
func (qc *Cache[V]) SnapshotGen() uint64 {
	g, err := qc.gen.Snapshot(context.Background(), qc.epochKey())
	if err != nil {
		qc.log.Warn("epoch snapshot error", storecache.Fields{"err": err})
		return 0
	}
	return g
}

func (qc *Cache[V]) selfHeal(ctx context.Context, k, reason string) {
	_ = qc.provider.Del(ctx, k)
	qc.hooks.SelfHeal(qc.ns, k, reason)
}

func (qc *Cache[V]) storageKey(query string) string {
	return util.HashKey("list:"+qc.ns, query)
}

func (qc *Cache[V]) epochKey() string { return "epoch:" + qc.ns }
