package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/yigitcankzl/storecache"
	"github.com/yigitcankzl/storecache/catalog"
	"github.com/yigitcankzl/storecache/codec"
	"github.com/yigitcankzl/storecache/docstore"
	asynchook "github.com/yigitcankzl/storecache/hooks/async"
	promhooks "github.com/yigitcankzl/storecache/hooks/prom"
	"github.com/yigitcankzl/storecache/sloghooks"
)

var demoCmd = &cli.Command{
	Name:  "demo",
	Usage: "run the storefront against a simulated remote store and report what the cache saved",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "products",
			Usage: "number of products in the simulated store",
			Value: 60,
		},
		&cli.DurationFlag{
			Name:  "latency",
			Usage: "simulated round trip of every remote call",
			Value: 25 * time.Millisecond,
		},
		&cli.BoolFlag{
			Name:  "no-remote-query",
			Usage: "simulate a store without server-side filtering",
		},
		&cli.DurationFlag{
			Name:  "linger",
			Usage: "keep serving metrics this long after the demo",
		},
	},
	Action: runDemo,
}

var demoCategories = []string{"lighting", "furniture", "kitchen", "garden", "office"}

func demoProducts(n int, now time.Time) map[string]catalog.Product {
	out := make(map[string]catalog.Product, n)
	for i := 0; i < n; i++ {
		cat := demoCategories[i%len(demoCategories)]
		id := fmt.Sprintf("p%03d", i+1)
		out[id] = catalog.Product{
			ID:         id,
			Name:       fmt.Sprintf("%s item %d", cat, i+1),
			Category:   cat,
			PriceCents: int64(500 + (i*733)%20000),
			Stock:      (i * 7) % 11,
			Tags:       []string{cat},
			Rating:     3 + float64(i%20)/10,
			CreatedAt:  now.Add(-time.Duration(i) * time.Hour),
			UpdatedAt:  now,
		}
	}
	return out
}

func runDemo(cctx *cli.Context) error {
	ctx := cctx.Context
	e, err := newEnv(cctx)
	if err != nil {
		return err
	}
	defer e.Close()
	log := e.zlog.Named("demo")

	prom := promhooks.New(e.reg, "storefront")
	async := asynchook.New(sloghooks.New(e.slog, sloghooks.Options{EvictEvery: 10}), 1, 1024)
	defer async.Close()
	hooks := storecache.MultiHooks{prom, async}

	bridge, err := e.openBridge(cctx, hooks)
	if err != nil {
		return err
	}
	opts := storecache.Options{
		Types:  catalog.DefaultTypes(),
		Logger: e.logger,
		Hooks:  hooks,
	}
	if bridge != nil {
		opts.Persistence = bridge
	}
	store, err := storecache.New(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	events, unsubscribe := store.Subscribe(256)
	defer unsubscribe()
	go func() {
		for ev := range events {
			log.Debug("cache event", zap.Stringer("kind", ev.Kind), zap.String("dataType", ev.DataType), zap.String("key", ev.Key), zap.String("mutation", ev.MutationID))
		}
	}()

	latency := cctx.Duration("latency")
	products, err := docstore.NewCollection[catalog.Product]("products", docstore.Options[catalog.Product]{
		Codec:         codec.Msgpack[catalog.Product]{},
		Latency:       latency,
		QueryDisabled: cctx.Bool("no-remote-query"),
	})
	if err != nil {
		return err
	}
	if err := products.Seed(demoProducts(cctx.Int("products"), time.Now())); err != nil {
		return err
	}
	carts, err := docstore.NewCollection[catalog.Cart]("carts", docstore.Options[catalog.Cart]{
		Codec:   codec.Msgpack[catalog.Cart]{},
		Latency: latency,
	})
	if err != nil {
		return err
	}
	src := &catalog.DocSource{Products: products, Carts: carts}

	lists, err := e.listProvider(ctx, cctx)
	if err != nil {
		return err
	}
	ps, err := catalog.NewProductService(store, src, catalog.ProductOptions{
		ListProvider: lists,
		Logger:       e.logger,
		Hooks:        hooks,
	})
	if err != nil {
		return err
	}
	defer ps.Close(context.Background())
	cs, err := catalog.NewCartService(store, src, ps, catalog.CartOptions{Logger: e.logger, Hooks: hooks})
	if err != nil {
		return err
	}

	e.serveMetrics(cctx)

	step := func(name string, fn func() error) error {
		start := time.Now()
		products.ResetCalls()
		carts.ResetCalls()
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		fmt.Printf("%-34s %8s  remote: get=%d getMany=%d query=%d scan=%d put=%d\n",
			name, time.Since(start).Round(time.Millisecond),
			products.Calls(docstore.OpGet)+carts.Calls(docstore.OpGet),
			products.Calls(docstore.OpGetMany),
			products.Calls(docstore.OpQuery),
			products.Calls(docstore.OpScan),
			carts.Calls(docstore.OpPut))
		return nil
	}

	const user = "demo-user"
	steps := []struct {
		name string
		fn   func() error
	}{
		{"20 concurrent reads of one product", func() error {
			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := ps.GetOne(ctx, "p001"); err != nil {
						errs <- err
					}
				}()
			}
			wg.Wait()
			close(errs)
			return <-errs
		}},
		{"list lighting by price", func() error {
			_, err := ps.List(ctx, catalog.Filter{Category: "lighting", SortBy: catalog.SortPrice})
			return err
		}},
		{"same list again", func() error {
			_, err := ps.List(ctx, catalog.Filter{Category: "lighting", SortBy: catalog.SortPrice})
			return err
		}},
		{"fill cart with 5 products", func() error {
			for _, id := range []string{"p002", "p007", "p013", "p021", "p034"} {
				if _, err := cs.AddItem(ctx, user, id, 1); err != nil {
					return err
				}
			}
			return nil
		}},
		{"view cart (cold products)", func() error {
			store.Invalidate(ctx, "", catalog.DataProduct)
			v, err := cs.View(ctx, user)
			if err == nil {
				fmt.Printf("  cart: %d lines, subtotal %d cents\n", len(v.Lines), v.SubtotalCents)
			}
			return err
		}},
		{"view cart again", func() error {
			_, err := cs.View(ctx, user)
			return err
		}},
		{"add item with failing write", func() error {
			carts.FailNext(docstore.OpPut, errors.New("simulated write failure"))
			_, err := cs.AddItem(ctx, user, "p003", 4)
			if err == nil {
				return errors.New("write unexpectedly succeeded")
			}
			v, verr := cs.View(ctx, user)
			if verr != nil {
				return verr
			}
			fmt.Printf("  rolled back: %v; cart still %d lines, subtotal %d cents\n", err, len(v.Lines), v.SubtotalCents)
			return nil
		}},
	}
	for _, s := range steps {
		if err := step(s.name, s.fn); err != nil {
			return err
		}
	}

	st := store.Stats()
	for _, ts := range st.Types {
		fmt.Printf("%-12s entries=%-4d hits=%-4d misses=%-4d coalesced=%-4d hit rate=%.2f\n",
			ts.DataType, ts.Entries, ts.Hits, ts.Misses, ts.Coalesced, ts.HitRate())
	}
	if ev, ok := lists.(interface{ Evictions() int64 }); ok {
		fmt.Printf("list cache evictions=%d\n", ev.Evictions())
	}
	if n := async.Dropped(); n > 0 {
		log.Warn("hook events dropped", zap.Int64("count", n))
	}

	if d := cctx.Duration("linger"); d > 0 {
		log.Info("lingering", zap.Duration("for", d))
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
	return nil
}
