package persist

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is a Backend held in process memory. It survives a Store being
// closed and reopened, which is enough to exercise restarts in tests.
type Memory struct {
	mu sync.Mutex
	m  map[string][]byte
}

var _ Backend = (*Memory)(nil)

func NewMemory() *Memory { return &Memory{m: make(map[string][]byte)} }

func (b *Memory) Put(_ context.Context, key string, blob []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[key] = append([]byte(nil), blob...)
	return nil
}

func (b *Memory) GetAll(_ context.Context, prefix string) ([]KV, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]KV, 0, len(b.m))
	for k, v := range b.m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, KV{Key: k, Blob: append([]byte(nil), v...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *Memory) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.m, k)
	}
	return nil
}

// Close is a no-op so the same Memory can back a reopened Store.
func (b *Memory) Close() error { return nil }

// Len reports how many blobs are stored.
func (b *Memory) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m)
}
