// Package redis stores persisted cache entries in a redis server running
// next to the process (a sidecar or a local instance with AOF/RDB enabled).
package redis

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yigitcankzl/storecache/persist"
)

var ErrNilClient = errors.New("redis backend: nil client")

const (
	scanCount = 500
	mgetChunk = 256
)

type Config struct {
	Client      goredis.UniversalClient
	TTL         time.Duration // optional server-side expiry for every blob; 0 = none
	CloseClient bool          // set true only if this backend exclusively owns the client
}

type Backend struct {
	rdb         goredis.UniversalClient
	ttl         time.Duration
	closeClient bool
}

var _ persist.Backend = (*Backend)(nil)

func New(cfg Config) (*Backend, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Backend{rdb: cfg.Client, ttl: cfg.TTL, closeClient: cfg.CloseClient}, nil
}

func (b *Backend) Put(ctx context.Context, key string, blob []byte) error {
	return b.rdb.Set(ctx, key, blob, b.ttl).Err()
}

// GetAll walks the prefix with SCAN and fetches values with MGET. Keys that
// vanish between the two steps are skipped.
func (b *Backend) GetAll(ctx context.Context, prefix string) ([]persist.KV, error) {
	var keys []string
	iter := b.rdb.Scan(ctx, 0, escapeGlob(prefix)+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	keys = dedupeSorted(keys) // SCAN may return a key more than once

	out := make([]persist.KV, 0, len(keys))
	for start := 0; start < len(keys); start += mgetChunk {
		end := min(start+mgetChunk, len(keys))
		vals, err := b.rdb.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			out = append(out, persist.KV{Key: keys[start+i], Blob: []byte(s)})
		}
	}
	return out, nil
}

func (b *Backend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return b.rdb.Del(ctx, keys...).Err()
}

// Close releases the client only when this backend owns it.
func (b *Backend) Close() error {
	if b.closeClient {
		if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func dedupeSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
