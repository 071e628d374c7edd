package storecache

import (
	"context"
)

func (s *Store) startMaintenance() {
	if s.sweepInterval > 0 {
		t := s.clock.Ticker(s.sweepInterval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer t.Stop()
			for {
				select {
				case <-t.C:
					if n := s.Sweep(); n > 0 {
						s.log.Debug("swept expired entries", Fields{"count": n})
					}
				case <-s.stopCh:
					return
				}
			}
		}()
	}

	if s.statsInterval > 0 {
		t := s.clock.Ticker(s.statsInterval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer t.Stop()
			for {
				select {
				case <-t.C:
					s.logStats()
				case <-s.stopCh:
					return
				}
			}
		}()
	}
}

// Sweep removes every expired entry now and returns how many it removed.
// Reads already drop expired entries lazily; the sweep bounds memory held by
// keys nobody reads anymore.
func (s *Store) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	var rs []removal
	for _, sh := range s.shelves {
		for _, e := range sh.lru.Values() {
			if s.expired(e, now) {
				sh.lru.Remove(e.key)
				rs = append(rs, s.removedLocked(e, EventExpired))
			}
		}
	}
	s.mu.Unlock()

	s.afterRemove(context.Background(), rs)
	return len(rs)
}

func (s *Store) logStats() {
	st := s.Stats()
	for _, t := range st.Types {
		s.log.Info("cache stats", Fields{
			"dataType":    t.DataType,
			"entries":     t.Entries,
			"hitRate":     t.HitRate(),
			"hits":        t.Hits,
			"misses":      t.Misses,
			"coalesced":   t.Coalesced,
			"evictions":   t.Evictions,
			"expirations": t.Expirations,
		})
	}
	if st.DroppedEvents > 0 {
		s.log.Warn("event subscribers are falling behind", Fields{"dropped": st.DroppedEvents})
	}
}
