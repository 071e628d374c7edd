// Package promhooks counts store hooks as Prometheus metrics.
//
//	reg := prometheus.NewRegistry()
//	h := promhooks.New(reg, "storefront")
//	store, _ := storecache.New(ctx, storecache.Options{Hooks: h})
//
// Keys never become label values; only dataType, reason and op do.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yigitcankzl/storecache"
)

type Hooks struct {
	lookups        *prometheus.CounterVec
	coalesced      *prometheus.CounterVec
	evictions      *prometheus.CounterVec
	expirations    *prometheus.CounterVec
	selfHeals      *prometheus.CounterVec
	batchMissing   *prometheus.CounterVec
	persistCorrupt *prometheus.CounterVec
	persistErrors  *prometheus.CounterVec
	rollbacks      *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
}

var _ storecache.Hooks = (*Hooks)(nil)

// New registers the counters on reg under namespace. A nil reg uses the
// default registerer. Registering twice on one registry panics.
func New(reg prometheus.Registerer, namespace string) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	vec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storecache",
			Name:      name,
			Help:      help,
		}, labels)
	}
	return &Hooks{
		lookups:        vec("lookups_total", "Cache lookups by result (hit or miss)", "data_type", "result"),
		coalesced:      vec("coalesced_total", "Lookups that shared another caller's fetch", "data_type"),
		evictions:      vec("evictions_total", "Entries evicted to respect the per-type item bound", "data_type"),
		expirations:    vec("expirations_total", "Entries dropped because their TTL passed", "data_type"),
		selfHeals:      vec("self_heals_total", "Undecodable entries dropped", "data_type", "reason"),
		batchMissing:   vec("batch_missing_total", "Keys a batch fetch did not return", "data_type"),
		persistCorrupt: vec("persist_discarded_total", "Persisted blobs discarded on load", "reason"),
		persistErrors:  vec("persist_errors_total", "Failed persistence backend calls", "op"),
		rollbacks:      vec("rollbacks_total", "Optimistic mutations rolled back after a failed write", "data_type"),
		fallbacks:      vec("filter_fallbacks_total", "List queries filtered in process", "data_type", "reason"),
	}
}

func (h *Hooks) Hit(dt string)       { h.lookups.WithLabelValues(dt, "hit").Inc() }
func (h *Hooks) Miss(dt string)      { h.lookups.WithLabelValues(dt, "miss").Inc() }
func (h *Hooks) Coalesced(dt string) { h.coalesced.WithLabelValues(dt).Inc() }

func (h *Hooks) Evicted(dt, _ string) { h.evictions.WithLabelValues(dt).Inc() }

func (h *Hooks) Expired(dt string, n int) { h.expirations.WithLabelValues(dt).Add(float64(n)) }

func (h *Hooks) SelfHeal(dt, _, reason string) { h.selfHeals.WithLabelValues(dt, reason).Inc() }

func (h *Hooks) BatchMissing(dt string, n int) { h.batchMissing.WithLabelValues(dt).Add(float64(n)) }

func (h *Hooks) PersistCorrupt(_, reason string) { h.persistCorrupt.WithLabelValues(reason).Inc() }

func (h *Hooks) PersistError(op string, _ error) { h.persistErrors.WithLabelValues(op).Inc() }

func (h *Hooks) RolledBack(dt, _ string, _ error) { h.rollbacks.WithLabelValues(dt).Inc() }

func (h *Hooks) FilterFallback(dt, reason string) { h.fallbacks.WithLabelValues(dt, reason).Inc() }
