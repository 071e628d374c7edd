// Package asynchook moves hook work off the store's hot path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	store, _ := storecache.New(ctx, storecache.Options{
//	    Types: catalog.DefaultTypes(),
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
//
// Events are dropped, never queued unboundedly, when the workers fall
// behind; Dropped reports how many.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/yigitcankzl/storecache"
)

type Hooks struct {
	inner   storecache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Int64
}

var _ storecache.Hooks = (*Hooks)(nil)

func New(inner storecache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events reported after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() int64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// send on a channel closed by a concurrent Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) Hit(dt string)            { h.try(func() { h.inner.Hit(dt) }) }
func (h *Hooks) Miss(dt string)           { h.try(func() { h.inner.Miss(dt) }) }
func (h *Hooks) Coalesced(dt string)      { h.try(func() { h.inner.Coalesced(dt) }) }
func (h *Hooks) Evicted(dt, k string)     { h.try(func() { h.inner.Evicted(dt, k) }) }
func (h *Hooks) Expired(dt string, n int) { h.try(func() { h.inner.Expired(dt, n) }) }
func (h *Hooks) SelfHeal(dt, k, r string) { h.try(func() { h.inner.SelfHeal(dt, k, r) }) }
func (h *Hooks) BatchMissing(dt string, n int) {
	h.try(func() { h.inner.BatchMissing(dt, n) })
}
func (h *Hooks) PersistCorrupt(k, r string) { h.try(func() { h.inner.PersistCorrupt(k, r) }) }
func (h *Hooks) PersistError(op string, err error) {
	h.try(func() { h.inner.PersistError(op, err) })
}
func (h *Hooks) RolledBack(dt, k string, err error) {
	h.try(func() { h.inner.RolledBack(dt, k, err) })
}
func (h *Hooks) FilterFallback(dt, r string) { h.try(func() { h.inner.FilterFallback(dt, r) }) }
