package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yigitcankzl/storecache"
	"github.com/yigitcankzl/storecache/codec"
	"github.com/yigitcankzl/storecache/docstore"
	gen "github.com/yigitcankzl/storecache/genstore"
	pr "github.com/yigitcankzl/storecache/provider"
	"github.com/yigitcankzl/storecache/querycache"
)

// ProductOptions configure a ProductService. Every field is optional.
type ProductOptions struct {
	// ListProvider holds cached list pages; nil => in-process memory
	// holding at most the store's productList MaxItems pages.
	ListProvider pr.Provider
	// ListGenStore holds the list epoch; nil => in-process.
	ListGenStore gen.GenStore
	// ListTTL defaults to the store's productList TTL.
	ListTTL time.Duration
	// DisableListCache sends every List to the remote store.
	DisableListCache bool

	Logger storecache.Logger // nil => NopLogger
	Hooks  storecache.Hooks  // nil => NopHooks
}

// ProductService reads products through the store. Single and bulk reads
// share the per-product cache; list queries are cached per filter in a
// querycache whose epoch moves whenever any product is invalidated.
type ProductService struct {
	src      ProductSource
	products *storecache.Cache[Product]
	lists    *querycache.Cache[Page]
	listTTL  time.Duration
	sf       singleflight.Group
	log      storecache.Logger
	hooks    storecache.Hooks
}

func NewProductService(s *storecache.Store, src ProductSource, opts ProductOptions) (*ProductService, error) {
	if src == nil {
		return nil, errors.New("catalog: product source is required")
	}
	products, err := storecache.NewCache[Product](s, DataProduct, codec.Msgpack[Product]{})
	if err != nil {
		return nil, err
	}

	svc := &ProductService{
		src:      src,
		products: products,
		listTTL:  opts.ListTTL,
		log:      opts.Logger,
		hooks:    opts.Hooks,
	}
	if svc.log == nil {
		svc.log = storecache.NopLogger{}
	}
	if svc.hooks == nil {
		svc.hooks = storecache.NopHooks{}
	}
	if svc.listTTL <= 0 {
		svc.listTTL = s.TypeConfig(DataProductList).TTL
	}

	prov := opts.ListProvider
	if prov == nil {
		prov = pr.NewBoundedMemory(nil, s.TypeConfig(DataProductList).MaxItems)
	}
	pageCodec, err := codec.NewCBOR[Page](true)
	if err != nil {
		return nil, err
	}
	svc.lists, err = querycache.New[Page](querycache.Options[Page]{
		Namespace:  DataProductList,
		Provider:   prov,
		Codec:      pageCodec,
		Logger:     svc.log,
		Hooks:      svc.hooks,
		DefaultTTL: svc.listTTL,
		Disabled:   opts.DisableListCache,
		GenStore:   opts.ListGenStore,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// Close releases the list cache. The store is owned by the caller.
func (ps *ProductService) Close(ctx context.Context) error {
	return ps.lists.Close(ctx)
}

// Cache exposes the per-product cache.
func (ps *ProductService) Cache() *storecache.Cache[Product] { return ps.products }

// GetOne returns product id, or ErrNotFound.
func (ps *ProductService) GetOne(ctx context.Context, id string) (Product, error) {
	if id == "" {
		return Product{}, fmt.Errorf("%w: empty product id", ErrInvalidArgument)
	}
	p, ok, err := ps.products.Get(ctx, id, func(ctx context.Context) (Product, bool, error) {
		return ps.src.GetProduct(ctx, id)
	})
	if err != nil {
		return Product{}, err
	}
	if !ok {
		return Product{}, fmt.Errorf("%w: product %s", ErrNotFound, id)
	}
	return p, nil
}

// GetMany returns the products among ids that exist, using at most one bulk
// read for those not cached. missing lists ids the store did not return.
func (ps *ProductService) GetMany(ctx context.Context, ids []string) (found map[string]Product, missing []string, err error) {
	for _, id := range ids {
		if id == "" {
			return nil, nil, fmt.Errorf("%w: empty product id", ErrInvalidArgument)
		}
	}
	return ps.products.GetBatch(ctx, ids, ps.src.GetProducts)
}

// List returns one page of products for f. Pages are cached per normalized
// filter. When the remote store cannot filter, all products are scanned and
// filtered here; that page is marked Degraded and the fallback is logged.
// Listed products also seed their own cache entries, unless a product was
// written or invalidated while the query ran.
func (ps *ProductService) List(ctx context.Context, f Filter) (Page, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return Page{}, err
	}
	key := f.Key()

	if p, ok, err := ps.lists.Get(ctx, key); err != nil {
		ps.log.Warn("list cache read failed", storecache.Fields{"filter": key, "err": err})
	} else if ok {
		ps.hooks.Hit(DataProductList)
		return p, nil
	}
	ps.hooks.Miss(DataProductList)

	ch := ps.sf.DoChan(key, func() (any, error) {
		return ps.query(context.WithoutCancel(ctx), f, key)
	})
	select {
	case <-ctx.Done():
		return Page{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			ps.hooks.Coalesced(DataProductList)
		}
		if r.Err != nil {
			return Page{}, r.Err
		}
		return clonePage(r.Val.(Page)), nil
	}
}

func (ps *ProductService) query(ctx context.Context, f Filter, key string) (Page, error) {
	obs := ps.lists.SnapshotGen()
	fence := ps.products.Fence()

	page, err := ps.src.QueryProducts(ctx, f)
	if errors.Is(err, docstore.ErrQueryUnsupported) {
		ps.hooks.FilterFallback(DataProductList, "query_unsupported")
		ps.log.Warn("remote filtering unavailable; filtering in process", storecache.Fields{"filter": key, "err": err})
		var all []Product
		all, err = ps.src.ScanProducts(ctx)
		if err == nil {
			page = f.Apply(all)
			page.Degraded = true
		}
	}
	if err != nil {
		return Page{}, err
	}

	// A product written or invalidated while the query ran may be older in
	// page than in the remote store, so seeding stops at the fence.
	seeded := 0
	for _, p := range page.Items {
		ok, err := ps.products.StoreFenced(ctx, p.ID, p, fence)
		if err != nil {
			ps.log.Warn("seeding product from list failed", storecache.Fields{"key": p.ID, "err": err})
			continue
		}
		if !ok {
			break
		}
		seeded++
	}
	if seeded < len(page.Items) {
		ps.log.Debug("list seeding skipped", storecache.Fields{"filter": key, "seeded": seeded, "items": len(page.Items)})
	}
	if err := ps.lists.SetWithGen(ctx, key, page, obs, ps.listTTL); err != nil {
		ps.log.Warn("list cache write failed", storecache.Fields{"filter": key, "err": err})
	}
	return page, nil
}

// clonePage keeps callers sharing one flight from sharing its slice.
func clonePage(p Page) Page {
	items := make([]Product, len(p.Items))
	for i, it := range p.Items {
		it.Tags = append([]string(nil), it.Tags...)
		items[i] = it
	}
	p.Items = items
	return p
}

// InvalidateOne drops product id and every cached list page.
func (ps *ProductService) InvalidateOne(ctx context.Context, id string) error {
	ps.products.Delete(ctx, id)
	return ps.lists.InvalidateAll(ctx)
}

// InvalidateAll drops every cached product and list page. It returns the
// number of product entries removed.
func (ps *ProductService) InvalidateAll(ctx context.Context) (int, error) {
	n := ps.products.Invalidate(ctx, "")
	return n, ps.lists.InvalidateAll(ctx)
}
