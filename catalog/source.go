package catalog

import (
	"context"

	"github.com/yigitcankzl/storecache/docstore"
)

// ProductSource is the remote product store.
type ProductSource interface {
	GetProduct(ctx context.Context, id string) (Product, bool, error)
	// GetProducts reads ids in one call; unknown ids are absent from the map.
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
	// QueryProducts filters, sorts and pages remotely. It returns an error
	// wrapping docstore.ErrQueryUnsupported when the store cannot.
	QueryProducts(ctx context.Context, f Filter) (Page, error)
	ScanProducts(ctx context.Context) ([]Product, error)
}

// CartSource is the remote cart store.
type CartSource interface {
	GetCart(ctx context.Context, userID string) (Cart, bool, error)
	PutCart(ctx context.Context, c Cart) error
}

// DocSource serves both sources from docstore collections.
type DocSource struct {
	Products *docstore.Collection[Product]
	Carts    *docstore.Collection[Cart]
}

var (
	_ ProductSource = (*DocSource)(nil)
	_ CartSource    = (*DocSource)(nil)
)

func (d *DocSource) GetProduct(ctx context.Context, id string) (Product, bool, error) {
	return d.Products.Get(ctx, id)
}

func (d *DocSource) GetProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	return d.Products.GetMany(ctx, ids)
}

func (d *DocSource) QueryProducts(ctx context.Context, f Filter) (Page, error) {
	items, total, err := d.Products.Query(ctx, docstore.Query[Product]{
		Match:  f.Match,
		Less:   f.Less,
		Offset: f.Offset(),
		Limit:  f.PageSize,
	})
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []Product{}
	}
	return Page{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func (d *DocSource) ScanProducts(ctx context.Context) ([]Product, error) {
	return d.Products.Scan(ctx)
}

func (d *DocSource) GetCart(ctx context.Context, userID string) (Cart, bool, error) {
	return d.Carts.Get(ctx, userID)
}

func (d *DocSource) PutCart(ctx context.Context, c Cart) error {
	return d.Carts.Put(ctx, c.UserID, c)
}
