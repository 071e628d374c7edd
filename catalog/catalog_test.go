package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yigitcankzl/storecache"
	"github.com/yigitcankzl/storecache/codec"
	"github.com/yigitcankzl/storecache/docstore"
	"github.com/yigitcankzl/storecache/optimistic"
)

type recHooks struct {
	storecache.NopHooks
	fallbacks  atomic.Int64
	rolledBack atomic.Int64
	missing    atomic.Int64
}

func (h *recHooks) FilterFallback(string, string)    { h.fallbacks.Add(1) }
func (h *recHooks) RolledBack(string, string, error) { h.rolledBack.Add(1) }
func (h *recHooks) BatchMissing(_ string, n int)     { h.missing.Add(int64(n)) }

type fixture struct {
	store    *storecache.Store
	products *docstore.Collection[Product]
	carts    *docstore.Collection[Cart]
	ps       *ProductService
	cs       *CartService
	hooks    *recHooks
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seedProducts() map[string]Product {
	mk := func(id, name, cat string, price int64, stock int, rating float64, age int) Product {
		return Product{
			ID: id, Name: name, Category: cat, PriceCents: price, Stock: stock, Rating: rating,
			Tags:      []string{cat},
			CreatedAt: epoch.Add(-time.Duration(age) * time.Hour),
		}
	}
	return map[string]Product{
		"p1": mk("p1", "Desk Lamp", "lighting", 1000, 5, 4.5, 10),
		"p2": mk("p2", "Floor Lamp", "lighting", 5000, 0, 4.0, 5),
		"p3": mk("p3", "Oak Desk", "furniture", 25000, 2, 4.8, 1),
		"p4": mk("p4", "Chair", "furniture", 8000, 9, 3.9, 20),
		"p5": mk("p5", "Pendant Light", "lighting", 3000, 1, 4.2, 2),
	}
}

type fixtureOpts struct {
	queryDisabled bool
	latency       time.Duration
}

func newFixture(t *testing.T, fo fixtureOpts) *fixture {
	t.Helper()
	ctx := context.Background()
	hooks := &recHooks{}

	s, err := storecache.New(ctx, storecache.Options{
		Types:         DefaultTypes(),
		SweepInterval: -1,
		StatsInterval: -1,
		Hooks:         hooks,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })

	products, err := docstore.NewCollection[Product]("products", docstore.Options[Product]{
		Codec:         codec.Msgpack[Product]{},
		QueryDisabled: fo.queryDisabled,
		Latency:       fo.latency,
	})
	require.NoError(t, err)
	require.NoError(t, products.Seed(seedProducts()))

	carts, err := docstore.NewCollection[Cart]("carts", docstore.Options[Cart]{Codec: codec.Msgpack[Cart]{}})
	require.NoError(t, err)

	src := &DocSource{Products: products, Carts: carts}
	ps, err := NewProductService(s, src, ProductOptions{Hooks: hooks})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close(ctx) })

	cs, err := NewCartService(s, src, ps, CartOptions{Hooks: hooks})
	require.NoError(t, err)

	return &fixture{store: s, products: products, carts: carts, ps: ps, cs: cs, hooks: hooks}
}

func ids(ps []Product) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

// ==============================
// Products
// ==============================

func TestGetOneCachesAndReportsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	p, err := f.ps.GetOne(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Desk Lamp", p.Name)

	_, err = f.ps.GetOne(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.products.Calls(docstore.OpGet))

	_, err = f.ps.GetOne(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.ps.GetOne(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetManyReadsUncachedInOneCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	_, err := f.ps.GetOne(ctx, "p1")
	require.NoError(t, err)

	found, missing, err := f.ps.GetMany(ctx, []string{"p1", "p2", "p3", "p2", "ghost"})
	require.NoError(t, err)
	assert.Len(t, found, 3)
	assert.Equal(t, []string{"ghost"}, missing)
	assert.EqualValues(t, 1, f.products.Calls(docstore.OpGetMany))
	assert.EqualValues(t, 1, f.hooks.missing.Load())

	// every product is now cached on its own
	_, err = f.ps.GetOne(ctx, "p3")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.products.Calls(docstore.OpGet))
}

func TestListUsesServerSideQueryAndCaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	flt := Filter{Category: "lighting", SortBy: SortPrice}

	page, err := f.ps.List(ctx, flt)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p5", "p2"}, ids(page.Items))
	assert.Equal(t, 3, page.Total)
	assert.False(t, page.Degraded)

	again, err := f.ps.List(ctx, Filter{Category: " lighting ", SortBy: SortPrice, Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, ids(page.Items), ids(again.Items))
	assert.EqualValues(t, 1, f.products.Calls(docstore.OpQuery))
	assert.EqualValues(t, 0, f.products.Calls(docstore.OpScan))
	assert.Zero(t, f.hooks.fallbacks.Load())
}

func TestListSeedsProductCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	_, err := f.ps.List(ctx, Filter{Category: "furniture"})
	require.NoError(t, err)

	p, err := f.ps.GetOne(ctx, "p4")
	require.NoError(t, err)
	assert.Equal(t, "Chair", p.Name)
	assert.EqualValues(t, 0, f.products.Calls(docstore.OpGet))
}

// heldQuery parks QueryProducts until release is closed.
type heldQuery struct {
	*DocSource
	entered chan struct{}
	release chan struct{}
}

func (h *heldQuery) QueryProducts(ctx context.Context, f Filter) (Page, error) {
	page, err := h.DocSource.QueryProducts(ctx, f)
	close(h.entered)
	<-h.release
	return page, err
}

func TestListDoesNotSeedProductInvalidatedMidQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	src := &heldQuery{
		DocSource: &DocSource{Products: f.products, Carts: f.carts},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	ps, err := NewProductService(f.store, src, ProductOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close(ctx) })

	listed := make(chan error, 1)
	go func() {
		_, err := ps.List(ctx, Filter{Category: "lighting"})
		listed <- err
	}()
	<-src.entered

	// the query already holds the old price
	p1 := seedProducts()["p1"]
	p1.PriceCents = 2000
	require.NoError(t, f.products.Put(ctx, "p1", p1))
	require.NoError(t, ps.InvalidateOne(ctx, "p1"))

	close(src.release)
	require.NoError(t, <-listed)

	got, err := ps.GetOne(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 2000, got.PriceCents)
	assert.EqualValues(t, 1, f.products.Calls(docstore.OpGet))
}

func TestListFallbackIsExplicit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{queryDisabled: true})
	flt := Filter{Search: "lamp", SortBy: SortPrice, Desc: true}

	page, err := f.ps.List(ctx, flt)
	require.NoError(t, err)
	assert.True(t, page.Degraded)
	assert.Equal(t, []string{"p2", "p1"}, ids(page.Items))
	assert.EqualValues(t, 1, f.hooks.fallbacks.Load())
	assert.EqualValues(t, 1, f.products.Calls(docstore.OpScan))

	// the same filter answered remotely gives the same page
	f.products.SetQueryEnabled(true)
	_, err = f.ps.InvalidateAll(ctx)
	require.NoError(t, err)
	remote, err := f.ps.List(ctx, flt)
	require.NoError(t, err)
	assert.False(t, remote.Degraded)
	assert.Equal(t, ids(page.Items), ids(remote.Items))
	assert.Equal(t, page.Total, remote.Total)
}

func TestListFallbackScanErrorIsReturned(t *testing.T) {
	f := newFixture(t, fixtureOpts{queryDisabled: true})
	boom := errors.New("scan failed")
	f.products.FailNext(docstore.OpScan, boom)

	_, err := f.ps.List(context.Background(), Filter{})
	assert.ErrorIs(t, err, boom)
}

func TestListRejectsInvalidFilter(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, err := f.ps.List(context.Background(), Filter{SortBy: "weight"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.ps.List(context.Background(), Filter{MinPriceCents: 500, MaxPriceCents: 100})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.EqualValues(t, 0, f.products.Calls(docstore.OpQuery))
}

func TestDefaultListCacheHonorsMaxItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	types := DefaultTypes()
	types[DataProductList] = storecache.TypeConfig{TTL: time.Minute, MaxItems: 2}
	s, err := storecache.New(ctx, storecache.Options{Types: types, SweepInterval: -1, StatsInterval: -1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	ps, err := NewProductService(s, &DocSource{Products: f.products, Carts: f.carts}, ProductOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close(ctx) })

	for _, cat := range []string{"lighting", "furniture", "garden"} {
		_, err := ps.List(ctx, Filter{Category: cat})
		require.NoError(t, err)
	}
	_, err = ps.List(ctx, Filter{Category: "garden"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.products.Calls(docstore.OpQuery))

	// the oldest page made room for the third
	_, err = ps.List(ctx, Filter{Category: "lighting"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, f.products.Calls(docstore.OpQuery))
}

func TestInvalidateOneDropsListPages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	_, err := f.ps.List(ctx, Filter{})
	require.NoError(t, err)
	require.NoError(t, f.ps.InvalidateOne(ctx, "p1"))

	_, err = f.ps.List(ctx, Filter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.products.Calls(docstore.OpQuery))
}

func TestInvalidateAllDropsProducts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	_, _, err := f.ps.GetMany(ctx, []string{"p1", "p2"})
	require.NoError(t, err)
	n, err := f.ps.InvalidateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, f.ps.Cache().Len())
}

func TestConcurrentListSharesOneQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{latency: 20 * time.Millisecond})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			page, err := f.ps.List(ctx, Filter{Category: "lighting"})
			assert.NoError(t, err)
			assert.Equal(t, 3, page.Total)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, f.products.Calls(docstore.OpQuery))
}

// ==============================
// Carts
// ==============================

func TestGetAbsentCartIsEmpty(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	c, err := f.cs.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UserID)
	assert.Empty(t, c.Items)
}

func TestViewResolvesLinesWithOneBulkRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	require.NoError(t, f.carts.Seed(map[string]Cart{"u1": {UserID: "u1", Items: []CartItem{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p3", Quantity: 3},
		{ProductID: "p4", Quantity: 1},
	}}}))

	v, err := f.cs.View(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.products.Calls(docstore.OpGetMany))
	assert.EqualValues(t, 0, f.products.Calls(docstore.OpGet))

	require.Len(t, v.Lines, 4)
	assert.EqualValues(t, 2000, v.Lines[0].LineTotalCents)
	assert.False(t, v.Lines[1].Available) // out of stock
	assert.False(t, v.Lines[2].Available) // 3 wanted, 2 in stock
	assert.True(t, v.HasUnavailable)
	assert.Equal(t, 7, v.ItemCount)
	assert.EqualValues(t, 2000+5000+75000+8000, v.SubtotalCents)

	_, err = f.cs.View(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.products.Calls(docstore.OpGetMany))
}

func TestViewMarksMissingProducts(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	require.NoError(t, f.carts.Seed(map[string]Cart{"u1": {UserID: "u1", Items: []CartItem{
		{ProductID: "gone", Quantity: 1},
		{ProductID: "p1", Quantity: 1},
	}}}))

	v, err := f.cs.View(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, v.Lines[0].Missing)
	assert.EqualValues(t, 1000, v.SubtotalCents)
}

func TestAddItemCommitsAndInvalidates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	c, err := f.cs.AddItem(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Quantity("p1"))

	_, cached := f.cs.Cache().Peek("u1")
	assert.False(t, cached, "cart must be refetched after a committed write")

	remote, ok, err := f.carts.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, remote.Quantity("p1"))

	c, err = f.cs.AddItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Quantity("p1"))
}

func TestFailedWriteRollsBackTotal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	require.NoError(t, f.carts.Seed(map[string]Cart{"u1": {UserID: "u1", Items: []CartItem{{ProductID: "p1", Quantity: 1}}}}))

	before, err := f.cs.View(ctx, "u1")
	require.NoError(t, err)
	require.EqualValues(t, 1000, before.SubtotalCents)

	boom := errors.New("write rejected")
	f.carts.FailNext(docstore.OpPut, boom)
	_, err = f.cs.AddItem(ctx, "u1", "p3", 1)

	var we *optimistic.WriteError
	require.ErrorAs(t, err, &we)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "u1", we.Key)
	assert.EqualValues(t, 1, f.hooks.rolledBack.Load())

	after, err := f.cs.View(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, after.SubtotalCents)
	assert.Len(t, after.Lines, 1)
}

func TestUpdateQuantity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	require.NoError(t, f.carts.Seed(map[string]Cart{"u1": {UserID: "u1", Items: []CartItem{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p4", Quantity: 2},
	}}}))

	c, err := f.cs.UpdateQuantity(ctx, "u1", "p4", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Quantity("p4"))

	c, err = f.cs.UpdateQuantity(ctx, "u1", "p1", 0)
	require.NoError(t, err)
	assert.Equal(t, []CartItem{{ProductID: "p4", Quantity: 5}}, c.Items)

	puts := f.carts.Calls(docstore.OpPut)
	_, err = f.cs.UpdateQuantity(ctx, "u1", "p9", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, puts, f.carts.Calls(docstore.OpPut))
}

func TestRemoveAbsentItemWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	c, err := f.cs.RemoveItem(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UserID)
	assert.EqualValues(t, 0, f.carts.Calls(docstore.OpPut))

	c, err = f.cs.Clear(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, c.Items)
	assert.EqualValues(t, 0, f.carts.Calls(docstore.OpPut))
}

func TestClearEmptiesCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	require.NoError(t, f.carts.Seed(map[string]Cart{"u1": {UserID: "u1", Items: []CartItem{{ProductID: "p1", Quantity: 1}}}}))

	_, err := f.cs.Clear(ctx, "u1")
	require.NoError(t, err)
	c, err := f.cs.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, c.Items)
}

func TestCartInputValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})

	_, err := f.cs.AddItem(ctx, "u1", "p1", 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.cs.AddItem(ctx, "", "p1", 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.cs.AddItem(ctx, "u1", "ghost", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Zero(t, f.cs.Cache().Len())
	assert.EqualValues(t, 0, f.carts.Calls(docstore.OpPut))
}

func TestCartInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureOpts{})
	require.NoError(t, f.carts.Seed(map[string]Cart{
		"u1": {UserID: "u1"},
		"u2": {UserID: "u2"},
	}))
	for _, u := range []string{"u1", "u2"} {
		_, err := f.cs.Get(ctx, u)
		require.NoError(t, err)
	}

	assert.True(t, f.cs.InvalidateOne(ctx, "u1"))
	assert.Equal(t, 1, f.cs.InvalidateAll(ctx))
	_, err := f.cs.Get(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.carts.Calls(docstore.OpGet))
}
