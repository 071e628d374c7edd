package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/yigitcankzl/storecache"
	"github.com/yigitcankzl/storecache/codec"
	"github.com/yigitcankzl/storecache/optimistic"
)

// CartOptions configure a CartService. Every field is optional.
type CartOptions struct {
	Logger storecache.Logger // nil => NopLogger
	Hooks  storecache.Hooks  // nil => NopHooks
	Clock  clock.Clock       // nil => wall clock; stamps Cart.UpdatedAt
	NewID  func() string     // mutation ids; nil => random UUID
}

// CartService reads carts through the store and edits them optimistically:
// an edit is visible to readers at once and is rolled back if the remote
// write fails.
type CartService struct {
	src      CartSource
	products *ProductService
	carts    *storecache.Cache[Cart]
	mut      *optimistic.Mutator[Cart]
	clock    clock.Clock
	log      storecache.Logger
}

// errUnchanged aborts a mutation that would not change the cart.
var errUnchanged = errors.New("catalog: cart unchanged")

func NewCartService(s *storecache.Store, src CartSource, products *ProductService, opts CartOptions) (*CartService, error) {
	if src == nil {
		return nil, errors.New("catalog: cart source is required")
	}
	if products == nil {
		return nil, errors.New("catalog: product service is required")
	}
	carts, err := storecache.NewCache[Cart](s, DataCart, codec.Msgpack[Cart]{})
	if err != nil {
		return nil, err
	}
	cs := &CartService{
		src:      src,
		products: products,
		carts:    carts,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
	if cs.clock == nil {
		cs.clock = clock.New()
	}
	if cs.log == nil {
		cs.log = storecache.NopLogger{}
	}
	cs.mut = optimistic.New(carts, optimistic.Options{Logger: cs.log, Hooks: opts.Hooks, NewID: opts.NewID})
	return cs, nil
}

// Cache exposes the cart cache.
func (cs *CartService) Cache() *storecache.Cache[Cart] { return cs.carts }

func (cs *CartService) load(userID string) storecache.FetchFunc[Cart] {
	return func(ctx context.Context) (Cart, bool, error) {
		return cs.src.GetCart(ctx, userID)
	}
}

// Get returns userID's cart. A user without a stored cart gets an empty one.
func (cs *CartService) Get(ctx context.Context, userID string) (Cart, error) {
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	c, ok, err := cs.carts.Get(ctx, userID, cs.load(userID))
	if err != nil {
		return Cart{}, err
	}
	if !ok {
		return Cart{UserID: userID}, nil
	}
	return c, nil
}

// View returns userID's cart with every line resolved to its product. All
// uncached products are read in a single bulk call.
func (cs *CartService) View(ctx context.Context, userID string) (CartView, error) {
	c, err := cs.Get(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	if len(c.Items) == 0 {
		return BuildView(c, nil), nil
	}
	ids := make([]string, len(c.Items))
	for i, it := range c.Items {
		ids[i] = it.ProductID
	}
	found, missing, err := cs.products.GetMany(ctx, ids)
	if err != nil {
		return CartView{}, err
	}
	if len(missing) > 0 {
		cs.log.Warn("cart references missing products", storecache.Fields{"user": userID, "missing": missing})
	}
	return BuildView(c, found), nil
}

// AddItem adds qty of productID to the cart. The product must exist.
func (cs *CartService) AddItem(ctx context.Context, userID, productID string, qty int) (Cart, error) {
	if userID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: empty id", ErrInvalidArgument)
	}
	if qty <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity %d", ErrInvalidArgument, qty)
	}
	if _, err := cs.products.GetOne(ctx, productID); err != nil {
		return Cart{}, err
	}
	return cs.mutate(ctx, userID, func(c Cart) (Cart, error) {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				c.Items[i].Quantity += qty
				return c, nil
			}
		}
		c.Items = append(c.Items, CartItem{ProductID: productID, Quantity: qty})
		return c, nil
	})
}

// UpdateQuantity sets productID's quantity; qty <= 0 removes the line.
// It returns ErrNotFound when the cart has no such line.
func (cs *CartService) UpdateQuantity(ctx context.Context, userID, productID string, qty int) (Cart, error) {
	if userID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: empty id", ErrInvalidArgument)
	}
	return cs.mutate(ctx, userID, func(c Cart) (Cart, error) {
		for i := range c.Items {
			if c.Items[i].ProductID != productID {
				continue
			}
			if qty <= 0 {
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
			} else {
				c.Items[i].Quantity = qty
			}
			return c, nil
		}
		return c, fmt.Errorf("%w: product %s not in cart", ErrNotFound, productID)
	})
}

// RemoveItem drops productID's line. Removing an absent line is a no-op.
func (cs *CartService) RemoveItem(ctx context.Context, userID, productID string) (Cart, error) {
	if userID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: empty id", ErrInvalidArgument)
	}
	return cs.mutate(ctx, userID, func(c Cart) (Cart, error) {
		for i := range c.Items {
			if c.Items[i].ProductID == productID {
				c.Items = append(c.Items[:i], c.Items[i+1:]...)
				return c, nil
			}
		}
		return c, errUnchanged
	})
}

// Clear empties the cart.
func (cs *CartService) Clear(ctx context.Context, userID string) (Cart, error) {
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: empty user id", ErrInvalidArgument)
	}
	return cs.mutate(ctx, userID, func(c Cart) (Cart, error) {
		if len(c.Items) == 0 {
			return c, errUnchanged
		}
		c.Items = nil
		return c, nil
	})
}

// mutate runs edit through the optimistic mutator and writes the result to
// the cart source. It returns the cart as written; on a failed write the
// error is an *optimistic.WriteError and the cache shows the old cart again.
func (cs *CartService) mutate(ctx context.Context, userID string, edit func(Cart) (Cart, error)) (Cart, error) {
	res, err := cs.mut.Mutate(ctx, userID, cs.load(userID),
		func(c Cart) (Cart, error) {
			c.UserID = userID
			next, err := edit(c)
			if err != nil {
				return next, err
			}
			next.UpdatedAt = cs.clock.Now()
			return next, nil
		},
		cs.src.PutCart,
	)
	if errors.Is(err, errUnchanged) {
		before := res.Before
		before.UserID = userID
		return before, nil
	}
	if err != nil {
		return Cart{}, err
	}
	return res.Applied, nil
}

// InvalidateOne drops userID's cached cart.
func (cs *CartService) InvalidateOne(ctx context.Context, userID string) bool {
	return cs.carts.Delete(ctx, userID)
}

// InvalidateAll drops every cached cart and returns how many were removed.
func (cs *CartService) InvalidateAll(ctx context.Context) int {
	return cs.carts.Invalidate(ctx, "")
}
