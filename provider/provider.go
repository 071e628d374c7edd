// Package provider is the byte store under the list-page cache.
//
// A provider hands back exactly the bytes it was given. Expiry headers,
// compression or any other framing a backend adds stay internal to it.
// Keys under "list:<ns>:" belong to querycache; anything else written there
// fails frame validation on read and is removed.
package provider

import (
	"context"
	"time"
)

// Provider must be safe for concurrent use.
type Provider interface {
	// Get reports a miss as (nil, false, nil). Backend failures return an
	// error and no value.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set returns false without an error when the backend declined the
	// write, e.g. an admission policy under memory pressure. cost is a hint.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Close(ctx context.Context) error
}
