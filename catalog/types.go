// Package catalog is the storefront's entity layer: products and carts
// read through a storecache.Store, list queries cached by filter, and cart
// edits applied optimistically.
package catalog

import (
	"errors"
	"time"

	"github.com/yigitcankzl/storecache"
)

// Data types used in the store. Full cache keys look like "product:p42"
// and "cart:u7".
const (
	DataProduct     = "product"
	DataCart        = "cart"
	DataProductList = "productList"
)

var (
	ErrInvalidArgument = errors.New("catalog: invalid argument")
	ErrNotFound        = errors.New("catalog: not found")
)

// DefaultTypes is the storefront's per-type cache configuration. For
// productList, MaxItems caps the pages an in-process list cache holds;
// byte-bounded list providers are sized in bytes instead.
func DefaultTypes() map[string]storecache.TypeConfig {
	return map[string]storecache.TypeConfig{
		DataProduct:     {TTL: 5 * time.Minute, MaxItems: 500},
		DataCart:        {TTL: time.Minute, MaxItems: 100},
		DataProductList: {TTL: 2 * time.Minute, MaxItems: 200},
	}
}

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	PriceCents  int64     `json:"priceCents"`
	Stock       int       `json:"stock"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Rating      float64   `json:"rating"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (p Product) InStock() bool { return p.Stock > 0 }

type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Cart is one user's cart as stored remotely. A user without a stored cart
// has an empty one.
type Cart struct {
	UserID    string     `json:"userId"`
	Items     []CartItem `json:"items,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Quantity returns how many of productID the cart holds.
func (c Cart) Quantity(productID string) int {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it.Quantity
		}
	}
	return 0
}

// CartLine is one cart item resolved against its product. Missing is set
// when the product no longer exists; such a line has no total.
type CartLine struct {
	Item           CartItem `json:"item"`
	Product        Product  `json:"product"`
	LineTotalCents int64    `json:"lineTotalCents"`
	Available      bool     `json:"available"`
	Missing        bool     `json:"missing"`
}

// CartView is a cart with its lines resolved. It is derived on every call
// and never cached itself.
type CartView struct {
	UserID         string     `json:"userId"`
	Lines          []CartLine `json:"lines"`
	SubtotalCents  int64      `json:"subtotalCents"`
	ItemCount      int        `json:"itemCount"`
	HasUnavailable bool       `json:"hasUnavailable"`
}

// BuildView resolves cart against products. Lines keep the cart's item
// order. A line is available when its product exists and has at least the
// requested quantity in stock.
func BuildView(cart Cart, products map[string]Product) CartView {
	v := CartView{UserID: cart.UserID, Lines: make([]CartLine, 0, len(cart.Items))}
	for _, it := range cart.Items {
		line := CartLine{Item: it}
		if p, ok := products[it.ProductID]; ok {
			line.Product = p
			line.LineTotalCents = p.PriceCents * int64(it.Quantity)
			line.Available = p.Stock >= it.Quantity
		} else {
			line.Missing = true
		}
		if !line.Available {
			v.HasUnavailable = true
		}
		v.SubtotalCents += line.LineTotalCents
		v.ItemCount += it.Quantity
		v.Lines = append(v.Lines, line)
	}
	return v
}
