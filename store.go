package storecache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/yigitcankzl/storecache/genstore"
)

// entry is owned by the Store. data is never handed out: readers decode it
// into a fresh value, so it is safe to keep the same slice for the entry's
// whole life.
type entry struct {
	key            string
	dataType       string
	data           []byte
	storedAt       time.Time
	lastAccessedAt time.Time
	size           int
}

// shelf holds the entries of one dataType in recency order.
type shelf struct {
	cfg TypeConfig
	lru *simplelru.LRU[string, *entry]
}

// Store is the process-wide cache for every dataType. Create it once with
// New, hand it to the services that need it, and Close it on shutdown.
// All methods are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	shelves map[string]*shelf
	types   map[string]TypeConfig
	def     TypeConfig
	closed  bool

	gens     *genstore.LocalGenStore
	inflight map[string]*call

	// writes counts Sets and removals per dataType and wipes counts
	// Invalidate calls spanning every type. Together they form the fence
	// that StoreFenced checks.
	writes map[string]uint64
	wipes  uint64

	persist Persister
	mirror  *mirror
	clock   clock.Clock
	log     Logger
	hooks   Hooks
	events  *broker
	stats   *counters

	sweepInterval time.Duration
	statsInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

func newStore(ctx context.Context, opts Options) (*Store, error) {
	s := &Store{
		shelves:  make(map[string]*shelf),
		types:    make(map[string]TypeConfig, len(opts.Types)),
		inflight: make(map[string]*call),
		writes:   make(map[string]uint64),
		persist:  opts.Persistence,
		mirror:   newMirror(),
		events:   newBroker(),
		stats:    newCounters(),
		stopCh:   make(chan struct{}),
	}

	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.clock = coalesce[clock.Clock](opts.Clock, clock.New())
	s.sweepInterval = coalesce[time.Duration](opts.SweepInterval, defaultSweepInterval)
	s.statsInterval = coalesce[time.Duration](opts.StatsInterval, defaultStatsInterval)

	s.def = TypeConfig{
		TTL:      positive(opts.Default.TTL, defaultTTL),
		MaxItems: positive(opts.Default.MaxItems, defaultMaxItems),
	}
	for dt, cfg := range opts.Types {
		s.types[dt] = TypeConfig{
			TTL:      positive(cfg.TTL, s.def.TTL),
			MaxItems: positive(cfg.MaxItems, s.def.MaxItems),
		}
	}

	retention := coalesce[time.Duration](opts.GenRetention, defaultGenRetention)
	s.gens = genstore.NewLocalGenStoreWithClock(s.clock, s.sweepIntervalOr(time.Hour), retention)

	if s.persist != nil {
		s.loadPersisted(ctx)
	}

	s.startMaintenance()
	return s, nil
}

func positive[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

func (s *Store) sweepIntervalOr(def time.Duration) time.Duration {
	if s.sweepInterval > 0 {
		return s.sweepInterval
	}
	return def
}

// Close stops background maintenance, ends every subscription and closes the
// persistence layer. It is safe to call more than once.
func (s *Store) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.stopCh)
		s.wg.Wait()
		s.events.close()
		_ = s.gens.Close(ctx)

		if s.persist != nil {
			err = s.persist.Close()
		}

		s.mu.Lock()
		s.shelves = make(map[string]*shelf)
		s.mu.Unlock()
	})
	return err
}

// TypeConfig returns the effective configuration for dataType.
func (s *Store) TypeConfig(dataType string) TypeConfig {
	if cfg, ok := s.types[dataType]; ok {
		return cfg
	}
	return s.def
}

func (s *Store) ttlFor(dataType string) time.Duration { return s.TypeConfig(dataType).TTL }

func fullKey(dataType, key string) string { return dataType + ":" + key }

func (s *Store) expired(e *entry, now time.Time) bool {
	return now.Sub(e.storedAt) > s.ttlFor(e.dataType)
}

func (s *Store) shelfLocked(dataType string) *shelf {
	if sh, ok := s.shelves[dataType]; ok {
		return sh
	}
	cfg := s.TypeConfig(dataType)
	// size is always positive here, NewLRU cannot fail.
	l, _ := simplelru.NewLRU[string, *entry](cfg.MaxItems, nil)
	sh := &shelf{cfg: cfg, lru: l}
	s.shelves[dataType] = sh
	return sh
}

// removal is a side effect collected under the lock and applied after it.
type removal struct {
	e    *entry
	kind EventKind
	op   mirrorOp
}

// removedLocked records that e left the cache. s.mu must be held.
func (s *Store) removedLocked(e *entry, kind EventKind) removal {
	return removal{e: e, kind: kind, op: s.deleteOpLocked(fullKey(e.dataType, e.key))}
}

// lookup returns the raw bytes of a live entry and marks it as recently used.
// An expired entry is removed on the spot.
func (s *Store) lookup(dataType, key string) ([]byte, bool, error) {
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, false, ErrClosed
	}
	sh, ok := s.shelves[dataType]
	if !ok {
		s.mu.Unlock()
		return nil, false, nil
	}
	e, ok := sh.lru.Peek(key)
	if !ok {
		s.mu.Unlock()
		return nil, false, nil
	}
	if s.expired(e, now) {
		sh.lru.Remove(key)
		r := s.removedLocked(e, EventExpired)
		s.mu.Unlock()
		s.afterRemove(context.Background(), []removal{r})
		return nil, false, nil
	}
	sh.lru.Get(key)
	e.lastAccessedAt = now
	raw := e.data
	s.mu.Unlock()
	return raw, true, nil
}

// peek is lookup without promotion and without removing expired entries.
func (s *Store) peek(dataType, key string) ([]byte, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shelves[dataType]
	if !ok {
		return nil, false
	}
	e, ok := sh.lru.Peek(key)
	if !ok || s.expired(e, now) {
		return nil, false
	}
	return e.data, true
}

// insertLocked stores raw under key, evicting the least recently used
// entries of the same dataType while the shelf is full.
func (s *Store) insertLocked(dataType, key string, raw []byte, storedAt time.Time) (*entry, []removal) {
	sh := s.shelfLocked(dataType)
	var evicted []removal
	if !sh.lru.Contains(key) {
		for sh.lru.Len() >= sh.cfg.MaxItems {
			_, old, ok := sh.lru.RemoveOldest()
			if !ok {
				break
			}
			evicted = append(evicted, s.removedLocked(old, EventEvicted))
		}
	}
	e := &entry{
		key:            key,
		dataType:       dataType,
		data:           raw,
		storedAt:       storedAt,
		lastAccessedAt: storedAt,
		size:           len(raw),
	}
	sh.lru.Add(key, e)
	return e, evicted
}

// set inserts or overwrites an entry. It also moves the key's generation so
// that a fetch started before this write cannot overwrite it. mirrored=false
// keeps the write out of the Persister; whatever was persisted for the key
// stays as it was.
func (s *Store) set(ctx context.Context, dataType, key string, raw []byte, mirrored bool) error {
	now := s.clock.Now()
	fk := fullKey(dataType, key)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	_, _ = s.gens.Bump(ctx, fk)
	s.writes[dataType]++
	e, evicted := s.insertLocked(dataType, key, raw, now)
	var op mirrorOp
	if mirrored {
		op = s.saveOpLocked(e)
	}
	s.mu.Unlock()

	s.afterInsert(ctx, e, op, EventSet)
	s.afterRemove(ctx, evicted)
	return nil
}

// storeFetched inserts a fetch result iff the key's generation is still gen.
func (s *Store) storeFetched(ctx context.Context, dataType, key string, raw []byte, gen uint64) bool {
	fk := fullKey(dataType, key)
	return s.storeIf(ctx, dataType, key, raw, func() bool {
		cur, _ := s.gens.Snapshot(ctx, fk)
		if cur != gen {
			s.log.Debug("fetch result dropped (key changed while fetching)", Fields{"dataType": dataType, "key": key, "obs": gen, "cur": cur})
			return false
		}
		return true
	})
}

// fence returns dataType's write fence: it moves on every Set, Delete and
// Invalidate that can touch dataType.
func (s *Store) fence(dataType string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fenceLocked(dataType)
}

func (s *Store) fenceLocked(dataType string) uint64 { return s.writes[dataType] + s.wipes }

// storeFenced inserts raw iff dataType's fence is still fence.
func (s *Store) storeFenced(ctx context.Context, dataType, key string, raw []byte, fence uint64) bool {
	return s.storeIf(ctx, dataType, key, raw, func() bool {
		if cur := s.fenceLocked(dataType); cur != fence {
			s.log.Debug("seed dropped (type written since fence)", Fields{"dataType": dataType, "key": key, "fence": fence, "cur": cur})
			return false
		}
		return true
	})
}

// storeIf inserts a remote read iff ok, evaluated under s.mu, holds.
func (s *Store) storeIf(ctx context.Context, dataType, key string, raw []byte, ok func() bool) bool {
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed || !ok() {
		s.mu.Unlock()
		return false
	}
	e, evicted := s.insertLocked(dataType, key, raw, now)
	op := s.saveOpLocked(e)
	s.mu.Unlock()

	s.stats.of(dataType).fetches.Inc()
	s.afterInsert(ctx, e, op, EventFetched)
	s.afterRemove(ctx, evicted)
	return true
}

// remove deletes one exact key and fences in-flight fetches for it.
func (s *Store) remove(ctx context.Context, dataType, key string) bool {
	fk := fullKey(dataType, key)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	_, _ = s.gens.Bump(ctx, fk)
	s.writes[dataType]++
	s.forgetFlightsLocked(ctx, func(k, dt string) bool { return k == fk })
	var e *entry
	if sh, ok := s.shelves[dataType]; ok {
		e, _ = sh.lru.Peek(key)
		sh.lru.Remove(key)
	}
	op := s.deleteOpLocked(fk)
	s.mu.Unlock()

	s.applyMirror(ctx, op)
	if e == nil {
		return false
	}
	s.events.publish(Event{Kind: EventInvalidated, DataType: dataType, Key: key, At: s.clock.Now()})
	return true
}

// Invalidate removes every entry whose full key (dataType:key) contains
// pattern. dataType == "" matches all types and pattern == "" matches every
// key in scope. Matching in-flight fetches are detached: their results are
// still delivered to callers already waiting but are not cached, and the
// next Get starts a new fetch. Matching persisted entries are purged too.
// It returns the number of in-memory entries removed.
func (s *Store) Invalidate(ctx context.Context, pattern, dataType string) int {
	match := func(fk, dt string) bool {
		return (dataType == "" || dt == dataType) && strings.Contains(fk, pattern)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	if dataType == "" {
		s.wipes++
	} else {
		s.writes[dataType]++
	}
	var (
		removed []*entry
		ops     []mirrorOp
	)
	// Mirror writes still queued for keys no longer in memory.
	for fk := range s.mirror.latest {
		dt, _, _ := strings.Cut(fk, ":")
		if match(fk, dt) && !s.inShelfLocked(fk) {
			ops = append(ops, s.deleteOpLocked(fk))
		}
	}
	for dt, sh := range s.shelves {
		if dataType != "" && dt != dataType {
			continue
		}
		for _, key := range sh.lru.Keys() {
			fk := fullKey(dt, key)
			if !match(fk, dt) {
				continue
			}
			e, _ := sh.lru.Peek(key)
			sh.lru.Remove(key)
			_, _ = s.gens.Bump(ctx, fk)
			removed = append(removed, e)
			ops = append(ops, s.deleteOpLocked(fk))
		}
	}
	s.forgetFlightsLocked(ctx, match)
	s.mu.Unlock()

	if s.persist != nil {
		if _, err := s.persist.DeleteMatching(ctx, pattern, dataType); err != nil {
			s.persistFailed("delete", pattern, err)
		}
		for _, op := range ops {
			s.applyMirror(ctx, op)
		}
	}
	now := s.clock.Now()
	for _, e := range removed {
		s.events.publish(Event{Kind: EventInvalidated, DataType: e.dataType, Key: e.key, At: now})
	}
	if len(removed) > 0 {
		s.log.Debug("invalidated entries", Fields{"pattern": pattern, "dataType": dataType, "count": len(removed)})
	}
	return len(removed)
}

func (s *Store) inShelfLocked(fk string) bool {
	dt, key, _ := strings.Cut(fk, ":")
	sh, ok := s.shelves[dt]
	return ok && sh.lru.Contains(key)
}

func (s *Store) afterInsert(ctx context.Context, e *entry, op mirrorOp, kind EventKind) {
	s.applyMirror(ctx, op)
	s.events.publish(Event{Kind: kind, DataType: e.dataType, Key: e.key, At: e.storedAt})
}

func (s *Store) afterRemove(ctx context.Context, rs []removal) {
	if len(rs) == 0 {
		return
	}
	now := s.clock.Now()
	expired := make(map[string]int)
	for _, r := range rs {
		switch r.kind {
		case EventEvicted:
			s.stats.of(r.e.dataType).evictions.Inc()
			s.hooks.Evicted(r.e.dataType, r.e.key)
		case EventExpired:
			s.stats.of(r.e.dataType).expirations.Inc()
			expired[r.e.dataType]++
		}
		s.applyMirror(ctx, r.op)
		s.events.publish(Event{Kind: r.kind, DataType: r.e.dataType, Key: r.e.key, At: now})
	}
	for dt, n := range expired {
		s.hooks.Expired(dt, n)
	}
}

func (s *Store) persistFailed(op, key string, err error) {
	s.log.Warn("persistence "+op+" failed", Fields{"key": key, "err": err})
	s.hooks.PersistError(op, err)
}

// loadPersisted seeds the shelves from the Persister. Oldest entries are
// inserted first so that recency order follows age and MaxItems keeps the
// newest ones.
func (s *Store) loadPersisted(ctx context.Context) {
	recs, err := s.persist.LoadAll(ctx, s.ttlFor, s.clock.Now())
	if err != nil {
		s.log.Warn("persistence load failed; starting cold", Fields{"err": err})
		s.hooks.PersistError("load", err)
		return
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].StoredAt.Before(recs[j].StoredAt) })

	var evicted []removal
	loaded := 0
	s.mu.Lock()
	for _, r := range recs {
		key, ok := strings.CutPrefix(r.FullKey, r.DataType+":")
		if !ok || r.DataType == "" {
			s.hooks.PersistCorrupt(r.FullKey, "foreign")
			continue
		}
		_, ev := s.insertLocked(r.DataType, key, r.Payload, r.StoredAt)
		evicted = append(evicted, ev...)
		loaded++
	}
	s.mu.Unlock()

	s.afterRemove(ctx, evicted)
	s.log.Info("loaded persisted entries", Fields{"loaded": loaded, "evicted": len(evicted)})
}

// EntryInfo describes a cached entry without exposing its payload.
type EntryInfo struct {
	Key            string
	DataType       string
	StoredAt       time.Time
	LastAccessedAt time.Time
	SizeEstimate   int
}

// Entries lists dataType's entries from least to most recently used.
func (s *Store) Entries(dataType string) []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shelves[dataType]
	if !ok {
		return nil
	}
	out := make([]EntryInfo, 0, sh.lru.Len())
	for _, e := range sh.lru.Values() {
		out = append(out, EntryInfo{
			Key:            e.key,
			DataType:       e.dataType,
			StoredAt:       e.storedAt,
			LastAccessedAt: e.lastAccessedAt,
			SizeEstimate:   e.size,
		})
	}
	return out
}

// Len returns the number of entries held for dataType.
func (s *Store) Len(dataType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.shelves[dataType]; ok {
		return sh.lru.Len()
	}
	return 0
}
