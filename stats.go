package storecache

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

type typeCounters struct {
	hits        *xsync.Counter
	misses      *xsync.Counter
	coalesced   *xsync.Counter
	fetches     *xsync.Counter
	evictions   *xsync.Counter
	expirations *xsync.Counter
}

type counters struct {
	byType *xsync.MapOf[string, *typeCounters]
}

func newCounters() *counters {
	return &counters{byType: xsync.NewMapOf[string, *typeCounters]()}
}

func (c *counters) of(dataType string) *typeCounters {
	tc, _ := c.byType.LoadOrCompute(dataType, func() *typeCounters {
		return &typeCounters{
			hits:        xsync.NewCounter(),
			misses:      xsync.NewCounter(),
			coalesced:   xsync.NewCounter(),
			fetches:     xsync.NewCounter(),
			evictions:   xsync.NewCounter(),
			expirations: xsync.NewCounter(),
		}
	})
	return tc
}

// TypeStats are cumulative counters for one dataType plus its current size.
type TypeStats struct {
	DataType    string
	Entries     int
	Hits        int64
	Misses      int64
	Coalesced   int64 // callers that shared another caller's fetch
	Fetches     int64 // fetch results stored
	Evictions   int64
	Expirations int64
}

// HitRate is Hits / (Hits + Misses), or 0 before the first lookup.
func (t TypeStats) HitRate() float64 {
	total := t.Hits + t.Misses
	if total == 0 {
		return 0
	}
	return float64(t.Hits) / float64(total)
}

// Stats is a point-in-time view of the whole store.
type Stats struct {
	Types         []TypeStats // sorted by DataType
	Pending       int
	DroppedEvents int64
}

// Total sums the per-type counters. DataType is empty.
func (s Stats) Total() TypeStats {
	var t TypeStats
	for _, ts := range s.Types {
		t.Entries += ts.Entries
		t.Hits += ts.Hits
		t.Misses += ts.Misses
		t.Coalesced += ts.Coalesced
		t.Fetches += ts.Fetches
		t.Evictions += ts.Evictions
		t.Expirations += ts.Expirations
	}
	return t
}

// Stats reports counters for every dataType seen so far.
func (s *Store) Stats() Stats {
	sizes := make(map[string]int)
	s.mu.Lock()
	for dt, sh := range s.shelves {
		sizes[dt] = sh.lru.Len()
	}
	pending := s.pendingLocked()
	s.mu.Unlock()

	out := Stats{Pending: pending, DroppedEvents: s.events.dropped.Load()}
	seen := make(map[string]bool)
	s.stats.byType.Range(func(dt string, tc *typeCounters) bool {
		seen[dt] = true
		out.Types = append(out.Types, TypeStats{
			DataType:    dt,
			Entries:     sizes[dt],
			Hits:        tc.hits.Value(),
			Misses:      tc.misses.Value(),
			Coalesced:   tc.coalesced.Value(),
			Fetches:     tc.fetches.Value(),
			Evictions:   tc.evictions.Value(),
			Expirations: tc.expirations.Value(),
		})
		return true
	})
	for dt, n := range sizes {
		if !seen[dt] {
			out.Types = append(out.Types, TypeStats{DataType: dt, Entries: n})
		}
	}
	sort.Slice(out.Types, func(i, j int) bool { return out.Types[i].DataType < out.Types[j].DataType })
	return out
}
