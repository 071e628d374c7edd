// Package docstore simulates the remote document store the storefront reads
// from. It exists so that services, tests and the demo CLI can exercise the
// cache against something with the properties that matter: per-call latency,
// call counters (to prove deduplication and N+1 elimination), injectable
// failures, and a query engine that can be switched off to force the
// client-side filtering fallback.
//
// Documents are kept encoded with a codec, so values handed out never alias
// stored state, the same as with a real network store.
package docstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/yigitcankzl/storecache/codec"
)

var (
	// ErrQueryUnsupported is returned by Query when server-side filtering is
	// not available. Callers must fall back explicitly.
	ErrQueryUnsupported = errors.New("docstore: server-side query unsupported")
	// ErrUnavailable is returned by every call while the store is offline.
	ErrUnavailable = errors.New("docstore: unavailable")
)

// Op names a kind of remote call.
type Op string

const (
	OpGet     Op = "get"
	OpGetMany Op = "getMany"
	OpQuery   Op = "query"
	OpScan    Op = "scan"
	OpPut     Op = "put"
	OpDelete  Op = "delete"
)

// Query is evaluated by the store. Match nil selects everything; Less nil
// keeps id order. Limit <= 0 means no limit.
type Query[T any] struct {
	Match  func(T) bool
	Less   func(a, b T) bool
	Offset int
	Limit  int
}

// Options configure a Collection. Codec is required.
type Options[T any] struct {
	Codec         codec.Codec[T]
	Latency       time.Duration // added to every call
	QueryDisabled bool          // Query returns ErrQueryUnsupported
	Clock         clock.Clock   // nil => wall clock; used for Latency
}

// Collection is one named set of documents keyed by id.
type Collection[T any] struct {
	name    string
	codec   codec.Codec[T]
	clock   clock.Clock
	latency time.Duration

	mu       sync.RWMutex
	docs     map[string][]byte
	failNext map[Op][]error

	queryDisabled atomic.Bool
	offline       atomic.Bool
	calls         sync.Map // Op -> *atomic.Int64
}

func NewCollection[T any](name string, opts Options[T]) (*Collection[T], error) {
	if opts.Codec == nil {
		return nil, errors.New("docstore: codec is required")
	}
	c := &Collection[T]{
		name:     name,
		codec:    opts.Codec,
		clock:    opts.Clock,
		latency:  opts.Latency,
		docs:     make(map[string][]byte),
		failNext: make(map[Op][]error),
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	c.queryDisabled.Store(opts.QueryDisabled)
	return c, nil
}

func (c *Collection[T]) Name() string { return c.name }

// SetQueryEnabled turns server-side query support on or off.
func (c *Collection[T]) SetQueryEnabled(on bool) { c.queryDisabled.Store(!on) }

// SetOffline makes every call fail with ErrUnavailable until reset.
func (c *Collection[T]) SetOffline(off bool) { c.offline.Store(off) }

// FailNext makes the next call of kind op return err. Calls queue up.
func (c *Collection[T]) FailNext(op Op, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[op] = append(c.failNext[op], err)
}

// Calls returns how many calls of kind op were made, failed ones included.
func (c *Collection[T]) Calls(op Op) int64 {
	if v, ok := c.calls.Load(op); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// ResetCalls zeroes every call counter.
func (c *Collection[T]) ResetCalls() {
	c.calls.Range(func(_, v any) bool {
		v.(*atomic.Int64).Store(0)
		return true
	})
}

// begin records the call, waits out the latency and applies failures.
func (c *Collection[T]) begin(ctx context.Context, op Op) error {
	v, _ := c.calls.LoadOrStore(op, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)

	if c.latency > 0 {
		t := c.clock.Timer(c.latency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	if c.offline.Load() {
		return ErrUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if q := c.failNext[op]; len(q) > 0 {
		err := q[0]
		c.failNext[op] = q[1:]
		return err
	}
	return nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var zero T
	if err := c.begin(ctx, OpGet); err != nil {
		return zero, false, err
	}
	c.mu.RLock()
	raw, ok := c.docs[id]
	c.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}
	v, err := c.codec.Decode(raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// GetMany reads ids in one call. Unknown ids are left out of the result.
func (c *Collection[T]) GetMany(ctx context.Context, ids []string) (map[string]T, error) {
	if err := c.begin(ctx, OpGetMany); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]T, len(ids))
	for _, id := range ids {
		raw, ok := c.docs[id]
		if !ok {
			continue
		}
		v, err := c.codec.Decode(raw)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}

// Query filters, sorts and pages on the store side. It returns the page and
// the number of matches before paging.
func (c *Collection[T]) Query(ctx context.Context, q Query[T]) ([]T, int, error) {
	if err := c.begin(ctx, OpQuery); err != nil {
		return nil, 0, err
	}
	if c.queryDisabled.Load() {
		return nil, 0, ErrQueryUnsupported
	}
	all, err := c.all()
	if err != nil {
		return nil, 0, err
	}
	matched := all[:0]
	for _, v := range all {
		if q.Match == nil || q.Match(v) {
			matched = append(matched, v)
		}
	}
	if q.Less != nil {
		sort.SliceStable(matched, func(i, j int) bool { return q.Less(matched[i], matched[j]) })
	}
	total := len(matched)
	start := min(max(q.Offset, 0), total)
	end := total
	if q.Limit > 0 {
		end = min(start+q.Limit, total)
	}
	return append([]T(nil), matched[start:end]...), total, nil
}

// Scan returns every document in id order.
func (c *Collection[T]) Scan(ctx context.Context) ([]T, error) {
	if err := c.begin(ctx, OpScan); err != nil {
		return nil, err
	}
	return c.all()
}

func (c *Collection[T]) all() ([]T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v, err := c.codec.Decode(c.docs[id])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Collection[T]) Put(ctx context.Context, id string, v T) error {
	if err := c.begin(ctx, OpPut); err != nil {
		return err
	}
	raw, err := c.codec.Encode(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.docs[id] = raw
	c.mu.Unlock()
	return nil
}

func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	if err := c.begin(ctx, OpDelete); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.docs, id)
	c.mu.Unlock()
	return nil
}

// Seed stores documents directly, without latency, failures or counting.
func (c *Collection[T]) Seed(docs map[string]T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, v := range docs {
		raw, err := c.codec.Encode(v)
		if err != nil {
			return err
		}
		c.docs[id] = raw
	}
	return nil
}

// Len returns the number of stored documents.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}
