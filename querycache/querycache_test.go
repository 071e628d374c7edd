package querycache

import (
	"context"
	"testing"
	"time"

	"github.com/yigitcankzl/storecache"
	c "github.com/yigitcankzl/storecache/codec"
	pr "github.com/yigitcankzl/storecache/provider"
)

type page struct {
	IDs   []string `json:"ids"`
	Total int      `json:"total"`
}

type healHooks struct {
	storecache.NopHooks
	reasons []string
}

func (h *healHooks) SelfHeal(_, _, reason string) { h.reasons = append(h.reasons, reason) }

func newTestQueryCache(t *testing.T, mp pr.Provider, optsOpt func(*Options[page])) *Cache[page] {
	t.Helper()
	opts := Options[page]{
		Namespace: "productList",
		Provider:  mp,
		Codec:     c.JSON[page]{},
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	qc, err := New[page](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return qc
}

// ==============================
// Epoch flow
// ==============================

func TestQueryCacheEpochFlow(t *testing.T) {
	ctx := context.Background()
	mp := pr.NewMemory(nil)
	hooks := &healHooks{}
	qc := newTestQueryCache(t, mp, func(o *Options[page]) { o.Hooks = hooks })
	defer qc.Close(ctx)

	q := "category=lamps&page=1"
	want := page{IDs: []string{"p1", "p2"}, Total: 2}

	if _, ok, err := qc.Get(ctx, q); ok || err != nil {
		t.Fatalf("initial Get: ok=%v err=%v", ok, err)
	}

	obs := qc.SnapshotGen()
	if err := qc.SetWithGen(ctx, q, want, obs, 0); err != nil {
		t.Fatalf("SetWithGen: %v", err)
	}
	got, ok, err := qc.Get(ctx, q)
	if err != nil || !ok || got.Total != 2 || len(got.IDs) != 2 {
		t.Fatalf("Get after set: %+v ok=%v err=%v", got, ok, err)
	}

	if err := qc.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	if _, ok, _ := qc.Get(ctx, q); ok {
		t.Fatalf("result from an old epoch was served")
	}
	if mp.Len() != 0 {
		t.Fatalf("stale entry was not deleted on read")
	}
	if len(hooks.reasons) != 1 || hooks.reasons[0] != "gen_mismatch" {
		t.Fatalf("self-heal reasons = %v", hooks.reasons)
	}

	// A query that started before InvalidateAll must not be stored.
	if err := qc.SetWithGen(ctx, q, want, obs, 0); err != nil {
		t.Fatalf("stale SetWithGen: %v", err)
	}
	if mp.Len() != 0 {
		t.Fatalf("stale result was written")
	}
}

func TestQueryCacheCorruptEntrySelfHeals(t *testing.T) {
	ctx := context.Background()
	mp := pr.NewMemory(nil)
	hooks := &healHooks{}
	qc := newTestQueryCache(t, mp, func(o *Options[page]) { o.Hooks = hooks })

	q := "all"
	_, _ = mp.Set(ctx, qc.storageKey(q), []byte("garbage"), 1, time.Minute)

	if _, ok, err := qc.Get(ctx, q); ok || err != nil {
		t.Fatalf("corrupt Get: ok=%v err=%v", ok, err)
	}
	if mp.Len() != 0 || len(hooks.reasons) != 1 || hooks.reasons[0] != "corrupt" {
		t.Fatalf("corrupt entry not healed: len=%d reasons=%v", mp.Len(), hooks.reasons)
	}
}

func TestQueryCacheInvalidateOne(t *testing.T) {
	ctx := context.Background()
	mp := pr.NewMemory(nil)
	qc := newTestQueryCache(t, mp, nil)

	_ = qc.SetWithGen(ctx, "a", page{Total: 1}, qc.SnapshotGen(), 0)
	_ = qc.SetWithGen(ctx, "b", page{Total: 2}, qc.SnapshotGen(), 0)
	_ = qc.Invalidate(ctx, "a")

	if _, ok, _ := qc.Get(ctx, "a"); ok {
		t.Fatalf("a still cached")
	}
	if _, ok, _ := qc.Get(ctx, "b"); !ok {
		t.Fatalf("b dropped by an unrelated Invalidate")
	}
}

func TestQueryCacheDisabled(t *testing.T) {
	ctx := context.Background()
	mp := pr.NewMemory(nil)
	qc := newTestQueryCache(t, mp, func(o *Options[page]) { o.Disabled = true })

	_ = qc.SetWithGen(ctx, "a", page{Total: 1}, 0, 0)
	if mp.Len() != 0 {
		t.Fatalf("disabled cache wrote to the provider")
	}
	if qc.Enabled() {
		t.Fatalf("Enabled() = true")
	}
}

func TestQueryCacheRequiresOptions(t *testing.T) {
	if _, err := New[page](Options[page]{Codec: c.JSON[page]{}, Namespace: "x"}); err == nil {
		t.Fatalf("missing provider accepted")
	}
	if _, err := New[page](Options[page]{Provider: pr.NewMemory(nil), Namespace: "x"}); err == nil {
		t.Fatalf("missing codec accepted")
	}
	if _, err := New[page](Options[page]{Provider: pr.NewMemory(nil), Codec: c.JSON[page]{}}); err == nil {
		t.Fatalf("missing namespace accepted")
	}
}
