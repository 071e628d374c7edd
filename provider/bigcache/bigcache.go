// Package bigcache keeps list pages in allegro/bigcache shards, off the
// garbage collector's scan path.
//
// bigcache expires by one global LifeWindow. Each stored value is prefixed
// with its own deadline (unix nanos, big endian, 0 for none) so that shorter
// per-page TTLs still hold; Get strips the prefix again.
package bigcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	bc "github.com/allegro/bigcache/v3"
	"github.com/benbjohnson/clock"

	pr "github.com/yigitcankzl/storecache/provider"
)

const deadlineLen = 8

type Config struct {
	// LifeWindow caps every page's life regardless of its TTL.
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	// HardMaxCacheSizeMB bounds memory; 0 leaves it unbounded.
	HardMaxCacheSizeMB int
	Clock              clock.Clock
}

type Pages struct {
	c       *bc.BigCache
	clk     clock.Clock
	noSpace atomic.Int64
}

var _ pr.Provider = (*Pages)(nil)

func New(ctx context.Context, cfg Config) (*Pages, error) {
	if cfg.LifeWindow <= 0 {
		return nil, errors.New("bigcache: LifeWindow must be positive")
	}
	p := &Pages{clk: cfg.Clock}
	if p.clk == nil {
		p.clk = clock.New()
	}

	conf := bc.DefaultConfig(cfg.LifeWindow)
	conf.Verbose = false
	conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	conf.OnRemoveWithReason = func(_ string, _ []byte, reason bc.RemoveReason) {
		if reason == bc.NoSpace {
			p.noSpace.Add(1)
		}
	}

	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("bigcache: %w", err)
	}
	p.c = c
	return p, nil
}

func (p *Pages) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	switch {
	case errors.Is(err, bc.ErrEntryNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	if len(b) < deadlineLen || p.expired(binary.BigEndian.Uint64(b)) {
		_ = p.c.Delete(key)
		return nil, false, nil
	}
	return b[deadlineLen:], true, nil
}

func (p *Pages) expired(deadline uint64) bool {
	return deadline != 0 && uint64(p.clk.Now().UnixNano()) > deadline
}

func (p *Pages) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var deadline uint64
	if ttl > 0 {
		deadline = uint64(p.clk.Now().Add(ttl).UnixNano())
	}
	buf := make([]byte, 0, deadlineLen+len(value))
	buf = binary.BigEndian.AppendUint64(buf, deadline)
	if err := p.c.Set(key, append(buf, value...)); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Pages) Del(_ context.Context, key string) error {
	if err := p.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

// Len counts stored pages, including ones whose own deadline has passed
// but that no Get has touched yet.
func (p *Pages) Len() int { return p.c.Len() }

// Evictions counts pages bigcache dropped to stay under HardMaxCacheSizeMB.
func (p *Pages) Evictions() int64 { return p.noSpace.Load() }

func (p *Pages) Close(context.Context) error { return p.c.Close() }
