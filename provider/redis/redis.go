// Package redis serves list pages from a redis server so that storefront
// processes sharing one redis also share their list cache.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/yigitcankzl/storecache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Config struct {
	Client goredis.UniversalClient
	// Prefix namespaces every key, e.g. "storefront:".
	Prefix string
	// OwnClient makes Close close Client.
	OwnClient bool
}

type Pages struct {
	cfg Config
}

var _ pr.Provider = (*Pages)(nil)

func New(cfg Config) (*Pages, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Pages{cfg: cfg}, nil
}

func (p *Pages) key(k string) string { return p.cfg.Prefix + k }

func (p *Pages) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.cfg.Client.Get(ctx, p.key(key)).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return b, true, nil
}

// Set stores without expiry when ttl is not positive. The cost hint is
// meaningless to redis.
func (p *Pages) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	args := goredis.SetArgs{}
	if ttl > 0 {
		args.TTL = ttl
	}
	if err := p.cfg.Client.SetArgs(ctx, p.key(key), value, args).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Del unlinks, so a large page is reclaimed off the server's main thread.
func (p *Pages) Del(ctx context.Context, key string) error {
	return p.cfg.Client.Unlink(ctx, p.key(key)).Err()
}

func (p *Pages) Close(context.Context) error {
	if !p.cfg.OwnClient {
		return nil
	}
	err := p.cfg.Client.Close()
	if errors.Is(err, goredis.ErrClosed) {
		return nil
	}
	return err
}
