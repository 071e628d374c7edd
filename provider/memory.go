package provider

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// Memory is an in-process Provider. It suits tests, small demos and list
// caches bounded by entry count; expired keys are dropped when read. When
// bounded, the least recently used key makes room for a new one.
type Memory struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, memEntry]
	clock clock.Clock
}

var _ Provider = (*Memory)(nil)

// NewMemory returns an empty, unbounded store. A nil clk uses the wall clock.
func NewMemory(clk clock.Clock) *Memory { return NewBoundedMemory(clk, 0) }

// NewBoundedMemory is NewMemory holding at most maxKeys keys; maxKeys <= 0
// means unbounded.
func NewBoundedMemory(clk clock.Clock, maxKeys int) *Memory {
	if clk == nil {
		clk = clock.New()
	}
	if maxKeys <= 0 {
		maxKeys = math.MaxInt
	}
	// size is positive, NewLRU cannot fail.
	l, _ := simplelru.NewLRU[string, memEntry](maxKeys, nil)
	return &Memory{lru: l, clock: clk}
}

func (p *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && p.clock.Now().After(e.exp) {
		p.lru.Remove(key)
		return nil, false, nil
	}
	return append([]byte(nil), e.v...), true, nil
}

func (p *Memory) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = p.clock.Now().Add(ttl)
	}
	p.mu.Lock()
	p.lru.Add(key, memEntry{v: append([]byte(nil), value...), exp: exp})
	p.mu.Unlock()
	return true, nil
}

func (p *Memory) Del(_ context.Context, key string) error {
	p.mu.Lock()
	p.lru.Remove(key)
	p.mu.Unlock()
	return nil
}

func (p *Memory) Close(context.Context) error { return nil }

// Len reports stored keys, expired ones included.
func (p *Memory) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}
