// Package ristretto keeps list pages in process with dgraph-io/ristretto,
// bounded by the total encoded size of the pages it admits.
package ristretto

import (
	"context"
	"fmt"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/yigitcankzl/storecache/provider"
)

// assumed size of one encoded list page when sizing admission counters
const pageSizeGuess = 4 << 10

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

// DefaultConfig bounds the cache at maxBytes and keeps ten counters per page
// that fits.
func DefaultConfig(maxBytes int64) Config {
	pages := max(maxBytes/pageSizeGuess, 100)
	return Config{NumCounters: pages * 10, MaxCost: maxBytes, BufferItems: 64}
}

type Pages struct {
	c *rc.Cache
}

var _ pr.Provider = (*Pages)(nil)

func New(cfg Config) (*Pages, error) {
	switch {
	case cfg.MaxCost <= 0:
		return nil, fmt.Errorf("ristretto: MaxCost must be positive, got %d", cfg.MaxCost)
	case cfg.NumCounters <= 0 || cfg.BufferItems <= 0:
		return nil, fmt.Errorf("ristretto: NumCounters and BufferItems must be positive")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
		// a page's cost is its length; skip ristretto's own bookkeeping
		// overhead so MaxCost stays a byte bound
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Pages{c: c}, nil
}

func (p *Pages) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	if b, ok := v.([]byte); ok && b != nil {
		return b, true, nil
	}
	p.c.Del(key)
	return nil, false, nil
}

// Set admits asynchronously; a true result is not yet readable until Wait.
func (p *Pages) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if cost <= 0 {
		cost = int64(len(value))
	}
	return p.c.SetWithTTL(key, value, cost, ttl), nil
}

func (p *Pages) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

func (p *Pages) Wait() { p.c.Wait() }

func (p *Pages) Close(context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics is nil unless Config.Metrics was set.
func (p *Pages) Metrics() *rc.Metrics { return p.c.Metrics }
