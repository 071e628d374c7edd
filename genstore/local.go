package genstore

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/puzpuzpuz/xsync/v3"
)

type counter struct {
	gen     uint64
	touched time.Time
}

// LocalGenStore is the in-process GenStore. Dropping an idle key resets it
// to zero, which can only make a pending load lose its right to store.
type LocalGenStore struct {
	m   *xsync.MapOf[string, counter]
	clk clock.Clock

	stop   chan struct{}
	done   sync.WaitGroup
	closed sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(cleanupInterval, retention time.Duration) *LocalGenStore {
	return NewLocalGenStoreWithClock(clock.New(), cleanupInterval, retention)
}

// NewLocalGenStoreWithClock starts a pruning loop when both durations are
// positive.
func NewLocalGenStoreWithClock(clk clock.Clock, cleanupInterval, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{
		m:   xsync.NewMapOf[string, counter](),
		clk: clk,
	}
	if cleanupInterval <= 0 || retention <= 0 {
		return s
	}
	s.stop = make(chan struct{})
	t := clk.Ticker(cleanupInterval)
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.C:
				s.Cleanup(retention)
			}
		}
	}()
	return s
}

func (s *LocalGenStore) Snapshot(_ context.Context, key string) (uint64, error) {
	c, _ := s.m.Load(key)
	return c.gen, nil
}

func (s *LocalGenStore) SnapshotMany(_ context.Context, keys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(keys))
	for _, k := range keys {
		c, _ := s.m.Load(k)
		out[k] = c.gen
	}
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, key string) (uint64, error) {
	now := s.clk.Now()
	c, _ := s.m.Compute(key, func(old counter, _ bool) (counter, bool) {
		return counter{gen: old.gen + 1, touched: now}, false
	})
	return c.gen, nil
}

func (s *LocalGenStore) Len() int { return s.m.Size() }

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.clk.Now().Add(-retention)
	var idle []string
	s.m.Range(func(k string, c counter) bool {
		if c.touched.Before(cutoff) {
			idle = append(idle, k)
		}
		return true
	})
	for _, k := range idle {
		// a Bump may have landed since the Range
		s.m.Compute(k, func(c counter, loaded bool) (counter, bool) {
			return c, !loaded || c.touched.Before(cutoff)
		})
	}
}

func (s *LocalGenStore) Close(context.Context) error {
	s.closed.Do(func() {
		if s.stop != nil {
			close(s.stop)
			s.done.Wait()
		}
	})
	return nil
}
