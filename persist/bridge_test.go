package persist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigitcankzl/storecache"
	"github.com/yigitcankzl/storecache/codec"
)

type cart struct {
	User  string `json:"user"`
	Total int64  `json:"total"`
}

type corruptHooks struct {
	storecache.NopHooks
	mu      sync.Mutex
	reasons map[string]string
}

func (h *corruptHooks) PersistCorrupt(key, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reasons == nil {
		h.reasons = make(map[string]string)
	}
	h.reasons[key] = reason
}

func openStore(t *testing.T, mock *clock.Mock, backend Backend, hooks storecache.Hooks) (*storecache.Store, *storecache.Cache[cart]) {
	t.Helper()
	br, err := New(backend, Options{Namespace: "shop", Hooks: hooks})
	require.NoError(t, err)
	s, err := storecache.New(context.Background(), storecache.Options{
		Types:         map[string]storecache.TypeConfig{"cart": {TTL: time.Minute, MaxItems: 10}},
		SweepInterval: -1,
		StatsInterval: -1,
		Persistence:   br,
		Clock:         mock,
	})
	require.NoError(t, err)
	c, err := storecache.NewCache[cart](s, "cart", codec.JSON[cart]{})
	require.NoError(t, err)
	return s, c
}

// ==============================
// Restart round trip
// ==============================

func TestEntriesSurviveRestartWithinTTL(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	backend := NewMemory()

	calls := 0
	fetch := func(context.Context) (cart, bool, error) {
		calls++
		return cart{User: "42", Total: 100}, true, nil
	}

	s1, c1 := openStore(t, mock, backend, nil)
	_, ok, err := c1.Get(ctx, "42", fetch)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s1.Close(ctx))
	require.Equal(t, 1, backend.Len())

	mock.Add(30 * time.Second)
	s2, c2 := openStore(t, mock, backend, nil)
	got, ok, err := c2.Get(ctx, "42", fetch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), got.Total)
	assert.Equal(t, 1, calls, "reloaded entry must be served without fetching")
	require.NoError(t, s2.Close(ctx))

	mock.Add(31 * time.Second)
	hooks := &corruptHooks{}
	s3, c3 := openStore(t, mock, backend, hooks)
	defer s3.Close(ctx)
	assert.Equal(t, "expired", hooks.reasons["shop/cart:42"])
	assert.Equal(t, 0, c3.Len())

	_, _, err = c3.Get(ctx, "42", fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "entry past its TTL must be fetched again")
}

func TestInvalidationPurgesMirror(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	backend := NewMemory()

	s, c := openStore(t, mock, backend, nil)
	defer s.Close(ctx)
	require.NoError(t, c.Set(ctx, "1", cart{User: "1"}))
	require.NoError(t, c.Set(ctx, "2", cart{User: "2"}))
	require.Equal(t, 2, backend.Len())

	s.Invalidate(ctx, "cart:1", "")
	assert.Equal(t, 1, backend.Len())
	c.Delete(ctx, "2")
	assert.Equal(t, 0, backend.Len())
}

// ==============================
// Load validation
// ==============================

func TestLoadAllDiscardsBadBlobs(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	backend := NewMemory()
	hooks := &corruptHooks{}

	v1, err := New(backend, Options{Namespace: "shop"})
	require.NoError(t, err)
	v2, err := New(backend, Options{Namespace: "shop", SchemaVersion: 2, Hooks: hooks})
	require.NoError(t, err)
	other, err := New(backend, Options{Namespace: "other"})
	require.NoError(t, err)

	save := func(b *Bridge, fk, dt string) {
		require.NoError(t, b.Save(ctx, storecache.PersistedEntry{FullKey: fk, DataType: dt, StoredAt: now, Payload: []byte(`{}`)}))
	}
	save(v1, "cart:old-schema", "cart")
	save(v2, "cart:ok", "cart")
	save(v2, "product:mislabeled", "cart")
	save(other, "cart:elsewhere", "cart")
	require.NoError(t, backend.Put(ctx, "shop/cart:garbage", []byte("not a blob")))

	recs, err := v2.LoadAll(ctx, func(string) time.Duration { return time.Hour }, now)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "cart:ok", recs[0].FullKey)
	assert.Equal(t, "cart", recs[0].DataType)
	assert.True(t, recs[0].StoredAt.Equal(now))

	assert.Equal(t, map[string]string{
		"shop/cart:old-schema":    "schema",
		"shop/product:mislabeled": "foreign",
		"shop/cart:garbage":       "corrupt",
	}, hooks.reasons)

	// discarded blobs are gone, other namespaces untouched
	assert.Equal(t, 2, backend.Len())
}

func TestDeleteMatchingScopesByDataType(t *testing.T) {
	ctx := context.Background()
	backend := NewMemory()
	br, err := New(backend, Options{})
	require.NoError(t, err)

	for _, e := range []storecache.PersistedEntry{
		{FullKey: "cart:42", DataType: "cart"},
		{FullKey: "product:42", DataType: "product"},
		{FullKey: "product:7", DataType: "product"},
	} {
		e.StoredAt = time.Now()
		require.NoError(t, br.Save(ctx, e))
	}

	n, err := br.DeleteMatching(ctx, "42", "product")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = br.DeleteMatching(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, backend.Len())
}

func TestInspectReportsStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	backend := NewMemory()
	br, err := New(backend, Options{})
	require.NoError(t, err)

	require.NoError(t, br.Save(ctx, storecache.PersistedEntry{FullKey: "cart:1", DataType: "cart", StoredAt: now, Payload: []byte("x")}))
	require.NoError(t, br.Save(ctx, storecache.PersistedEntry{FullKey: "cart:2", DataType: "cart", StoredAt: now.Add(-time.Hour)}))

	infos, err := br.Inspect(ctx, func(string) time.Duration { return time.Minute }, now)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "ok", infos[0].Status)
	assert.Equal(t, "cart", infos[0].DataType)
	assert.Equal(t, "expired", infos[1].Status)
	assert.Equal(t, 2, backend.Len(), "Inspect must not delete anything")
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)
	_, err = New(NewMemory(), Options{Namespace: "a/b"})
	assert.Error(t, err)
}
