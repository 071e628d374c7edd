// Package sloghooks turns store hook events into log/slog records.
//
// Per-read events (hits, misses, coalesced waits) are left to the metrics
// hooks; combine both with storecache.MultiHooks.
package sloghooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/yigitcankzl/storecache"
)

type Options struct {
	// Log only every Nth event of the kind; 0 or 1 logs all.
	SelfHealEvery uint64
	EvictEvery    uint64
	MissingEvery  uint64
	// Redact maps a cache key to what appears in the log. The default is a
	// short hash, so user ids in cart keys stay out of log storage.
	Redact func(string) string
}

// sampler passes every nth call.
type sampler struct {
	n   uint64
	ctr atomic.Uint64
}

func (s *sampler) pass() bool {
	return s.n <= 1 || s.ctr.Add(1)%s.n == 0
}

type Hooks struct {
	storecache.NopHooks

	l      *slog.Logger
	redact func(string) string

	selfHeal, evict, missing sampler
}

var _ storecache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	h := &Hooks{l: l, redact: opts.Redact}
	if h.redact == nil {
		h.redact = hashKey
	}
	h.selfHeal.n = opts.SelfHealEvery
	h.evict.n = opts.EvictEvery
	h.missing.n = opts.MissingEvery
	return h
}

func hashKey(k string) string { return fmt.Sprintf("%016x", xxhash.Sum64String(k)) }

func (h *Hooks) log(level slog.Level, msg string, attrs ...slog.Attr) {
	if h.l == nil {
		return
	}
	h.l.LogAttrs(context.Background(), level, "storecache."+msg, attrs...)
}

func (h *Hooks) Evicted(dataType, key string) {
	if h.evict.pass() {
		h.log(slog.LevelDebug, "evicted", slog.String("data_type", dataType), slog.String("key", h.redact(key)))
	}
}

func (h *Hooks) Expired(dataType string, n int) {
	h.log(slog.LevelDebug, "expired", slog.String("data_type", dataType), slog.Int("count", n))
}

func (h *Hooks) SelfHeal(dataType, key, reason string) {
	if h.selfHeal.pass() {
		h.log(slog.LevelWarn, "self_heal",
			slog.String("data_type", dataType), slog.String("key", h.redact(key)), slog.String("reason", reason))
	}
}

func (h *Hooks) BatchMissing(dataType string, missing int) {
	if h.missing.pass() {
		h.log(slog.LevelWarn, "batch_missing", slog.String("data_type", dataType), slog.Int("missing", missing))
	}
}

func (h *Hooks) PersistCorrupt(storageKey, reason string) {
	h.log(slog.LevelWarn, "persist_corrupt", slog.String("key", h.redact(storageKey)), slog.String("reason", reason))
}

func (h *Hooks) PersistError(op string, err error) {
	h.log(slog.LevelError, "persist_error", slog.String("op", op), slog.Any("err", err))
}

func (h *Hooks) RolledBack(dataType, key string, err error) {
	h.log(slog.LevelWarn, "rolled_back",
		slog.String("data_type", dataType), slog.String("key", h.redact(key)), slog.Any("err", err))
}

func (h *Hooks) FilterFallback(dataType, reason string) {
	h.log(slog.LevelWarn, "filter_fallback", slog.String("data_type", dataType), slog.String("reason", reason))
}
