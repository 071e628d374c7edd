// Package persist mirrors cache entries into local durable storage so a
// restarted process starts warm.
//
// A Bridge implements storecache.Persister on top of a Backend, the plain
// key/value surface of the storage engine (pebble on disk, a local redis, or
// memory in tests). Every blob embeds its dataType, storedAt and schema
// version; blobs that are expired, undecodable, from another schema version
// or stored under a mismatching key are deleted on load, never returned.
//
// Keys:
//
//	<namespace>/<dataType>:<key>
//
// The mirror is best effort: it is not a write-ahead log and offers no
// durability guarantee for optimistic values.
package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yigitcankzl/storecache"
	"github.com/yigitcankzl/storecache/internal/wire"
)

// KV is one stored blob.
type KV struct {
	Key  string
	Blob []byte
}

// Backend is a durable local key/value store. Implementations must be safe
// for concurrent use and must not retain blob after Put returns.
type Backend interface {
	Put(ctx context.Context, key string, blob []byte) error
	// GetAll returns every pair whose key starts with prefix, in key order.
	GetAll(ctx context.Context, prefix string) ([]KV, error)
	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

const (
	defaultNamespace     = "storecache"
	defaultSchemaVersion = 1
)

// Options configure a Bridge. Every field is optional.
type Options struct {
	Namespace     string            // key prefix; "" => "storecache"
	SchemaVersion uint16            // bump when record types change shape; 0 => 1
	Logger        storecache.Logger // nil => NopLogger
	Hooks         storecache.Hooks  // nil => NopHooks
}

// Bridge adapts a Backend to storecache.Persister.
type Bridge struct {
	backend Backend
	prefix  string
	schema  uint16
	log     storecache.Logger
	hooks   storecache.Hooks
}

var _ storecache.Persister = (*Bridge)(nil)

func New(b Backend, opts Options) (*Bridge, error) {
	if b == nil {
		return nil, errors.New("persist: backend is required")
	}
	ns := opts.Namespace
	if ns == "" {
		ns = defaultNamespace
	}
	if strings.Contains(ns, "/") {
		return nil, fmt.Errorf("persist: namespace %q must not contain '/'", ns)
	}
	br := &Bridge{
		backend: b,
		prefix:  ns + "/",
		schema:  opts.SchemaVersion,
		log:     storecache.WithFields(opts.Logger, storecache.Fields{"subsystem": "persist"}),
		hooks:   opts.Hooks,
	}
	if br.schema == 0 {
		br.schema = defaultSchemaVersion
	}
	if br.hooks == nil {
		br.hooks = storecache.NopHooks{}
	}
	return br, nil
}

func (b *Bridge) storageKey(fullKey string) string { return b.prefix + fullKey }

// Save writes e under its namespaced key, replacing any previous blob.
func (b *Bridge) Save(ctx context.Context, e storecache.PersistedEntry) error {
	blob, err := wire.EncodeEntry(wire.Entry{
		SchemaVersion: b.schema,
		StoredAt:      e.StoredAt,
		DataType:      e.DataType,
		Payload:       e.Payload,
	})
	if err != nil {
		return fmt.Errorf("persist: encode %s: %w", e.FullKey, err)
	}
	return b.backend.Put(ctx, b.storageKey(e.FullKey), blob)
}

func (b *Bridge) Delete(ctx context.Context, fullKey string) error {
	return b.backend.Delete(ctx, b.storageKey(fullKey))
}

// DeleteMatching removes every blob whose full key contains pattern,
// optionally limited to dataType. Undecodable blobs are removed as well when
// their key matches, since they could never be loaded anyway.
func (b *Bridge) DeleteMatching(ctx context.Context, pattern, dataType string) (int, error) {
	kvs, err := b.backend.GetAll(ctx, b.prefix)
	if err != nil {
		return 0, err
	}
	var del []string
	for _, kv := range kvs {
		fk := strings.TrimPrefix(kv.Key, b.prefix)
		if !strings.Contains(fk, pattern) {
			continue
		}
		if dataType != "" {
			e, err := wire.DecodeEntry(kv.Blob)
			if err == nil && e.DataType != dataType {
				continue
			}
		}
		del = append(del, kv.Key)
	}
	if len(del) == 0 {
		return 0, nil
	}
	if err := b.backend.Delete(ctx, del...); err != nil {
		return 0, err
	}
	return len(del), nil
}

// LoadAll returns the live entries of this namespace. Blobs that fail any
// check are deleted and reported through Hooks.PersistCorrupt; only a
// backend read error fails the call.
func (b *Bridge) LoadAll(ctx context.Context, ttlFor func(dataType string) time.Duration, now time.Time) ([]storecache.PersistedEntry, error) {
	kvs, err := b.backend.GetAll(ctx, b.prefix)
	if err != nil {
		return nil, err
	}

	out := make([]storecache.PersistedEntry, 0, len(kvs))
	var discard []string
	reasons := make(map[string]int)
	for _, kv := range kvs {
		rec, reason := b.check(kv, ttlFor, now)
		if reason != "" {
			discard = append(discard, kv.Key)
			reasons[reason]++
			b.hooks.PersistCorrupt(kv.Key, reason)
			continue
		}
		out = append(out, rec)
	}

	if len(discard) > 0 {
		if err := b.backend.Delete(ctx, discard...); err != nil {
			b.log.Warn("failed to delete discarded blobs", storecache.Fields{"count": len(discard), "err": err})
		}
		b.log.Info("discarded blobs on load", storecache.Fields{"count": len(discard), "reasons": reasons})
	}
	return out, nil
}

// check validates one blob. It returns a non-empty reason when the blob
// must be discarded.
func (b *Bridge) check(kv KV, ttlFor func(string) time.Duration, now time.Time) (storecache.PersistedEntry, string) {
	fk := strings.TrimPrefix(kv.Key, b.prefix)
	e, err := wire.DecodeEntry(kv.Blob)
	if err != nil {
		return storecache.PersistedEntry{}, "corrupt"
	}
	if e.SchemaVersion != b.schema {
		return storecache.PersistedEntry{}, "schema"
	}
	if !strings.HasPrefix(fk, e.DataType+":") {
		return storecache.PersistedEntry{}, "foreign"
	}
	if ttlFor != nil && now.Sub(e.StoredAt) > ttlFor(e.DataType) {
		return storecache.PersistedEntry{}, "expired"
	}
	return storecache.PersistedEntry{
		FullKey:  fk,
		DataType: e.DataType,
		StoredAt: e.StoredAt,
		Payload:  append([]byte(nil), e.Payload...),
	}, ""
}

// BlobInfo describes one stored blob for inspection tools.
type BlobInfo struct {
	Key      string // full key (dataType:key), or the raw storage key when unreadable
	DataType string
	StoredAt time.Time
	Size     int
	Status   string // "ok", "corrupt", "schema", "foreign" or "expired"
}

// Inspect reports every blob of the namespace without changing anything.
// ttlFor may be nil, in which case no blob is reported as expired.
func (b *Bridge) Inspect(ctx context.Context, ttlFor func(string) time.Duration, now time.Time) ([]BlobInfo, error) {
	kvs, err := b.backend.GetAll(ctx, b.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]BlobInfo, 0, len(kvs))
	for _, kv := range kvs {
		info := BlobInfo{Key: strings.TrimPrefix(kv.Key, b.prefix), Size: len(kv.Blob), Status: "ok"}
		rec, reason := b.check(kv, ttlFor, now)
		if reason != "" {
			info.Status = reason
		}
		if e, err := wire.DecodeEntry(kv.Blob); err == nil {
			info.DataType, info.StoredAt = e.DataType, e.StoredAt
		}
		if reason == "" {
			info.Key = rec.FullKey
		}
		out = append(out, info)
	}
	return out, nil
}

func (b *Bridge) Close() error { return b.backend.Close() }
