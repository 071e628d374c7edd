package storecache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// TypeConfig bounds one dataType: entries older than TTL are stale and at
// most MaxItems entries are kept (least recently used go first).
type TypeConfig struct {
	TTL      time.Duration
	MaxItems int
}

// FetchFunc reads one record from the remote store. ok=false means the
// record does not exist; that result is returned to the caller but not cached.
type FetchFunc[T any] func(ctx context.Context) (v T, ok bool, err error)

// BatchFetchFunc reads many records in one remote call. Keys absent from the
// returned map are treated as not found, not as an error.
type BatchFetchFunc[T any] func(ctx context.Context, keys []string) (map[string]T, error)

// PersistedEntry is one cache entry as mirrored to durable local storage.
type PersistedEntry struct {
	FullKey  string // dataType:key
	DataType string
	StoredAt time.Time
	Payload  []byte // codec output for the dataType's record type
}

// Persister mirrors entries into a durable local store (see package persist).
// LoadAll is called once from New and must drop, not return, entries that
// are corrupt or older than ttlFor(dataType). Errors from Save and Delete are
// logged by the store and never reach readers. Save and Delete calls for one
// full key never overlap and arrive in the order the store applied them.
type Persister interface {
	Save(ctx context.Context, e PersistedEntry) error
	Delete(ctx context.Context, fullKey string) error
	DeleteMatching(ctx context.Context, pattern, dataType string) (int, error)
	LoadAll(ctx context.Context, ttlFor func(dataType string) time.Duration, now time.Time) ([]PersistedEntry, error)
	Close() error
}

// Options configure a Store. Every field is optional.
type Options struct {
	Types         map[string]TypeConfig // per dataType; missing types use Default
	Default       TypeConfig            // zero fields => 5m TTL / 1000 items
	SweepInterval time.Duration         // expired-entry sweep; 0 => 1m, <0 disables
	StatsInterval time.Duration         // periodic stats log; 0 => 5m, <0 disables
	GenRetention  time.Duration         // generation metadata retention; 0 => 24h

	Persistence Persister   // nil => memory only
	Logger      Logger      // nil => NopLogger
	Hooks       Hooks       // nil => NopHooks
	Clock       clock.Clock // nil => wall clock
}

const (
	defaultTTL           = 5 * time.Minute
	defaultMaxItems      = 1000
	defaultSweepInterval = time.Minute
	defaultStatsInterval = 5 * time.Minute
	defaultGenRetention  = 24 * time.Hour
)

// New builds a Store. When Options.Persistence is set, previously mirrored
// entries that are still within their TTL are loaded before New returns.
// A failing or corrupt persistence layer is logged and never fails New.
func New(ctx context.Context, opts Options) (*Store, error) {
	return newStore(ctx, opts)
}
