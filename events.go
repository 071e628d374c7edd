package storecache

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventKind classifies a change to cached state.
type EventKind uint8

const (
	EventSet         EventKind = iota + 1 // Set stored a value
	EventFetched                          // a fetch result was stored
	EventInvalidated                      // removed by Invalidate or Delete
	EventEvicted                          // removed to stay within MaxItems
	EventExpired                          // removed because its TTL passed
	EventApplied                          // optimistic value made visible
	EventCommitted                        // remote write of an optimistic value succeeded
	EventRolledBack                       // remote write failed, snapshot restored
)

func (k EventKind) String() string {
	switch k {
	case EventSet:
		return "set"
	case EventFetched:
		return "fetched"
	case EventInvalidated:
		return "invalidated"
	case EventEvicted:
		return "evicted"
	case EventExpired:
		return "expired"
	case EventApplied:
		return "applied"
	case EventCommitted:
		return "committed"
	case EventRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Event describes one change. MutationID and Err are set only for the
// optimistic kinds.
type Event struct {
	Kind       EventKind
	DataType   string
	Key        string
	At         time.Time
	MutationID string
	Err        error
}

// broker fans events out to subscribers without ever blocking the
// publisher: a subscriber whose buffer is full misses the event.
type broker struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	closed  bool
	dropped atomic.Int64
}

func newBroker() *broker {
	return &broker{subs: make(map[uint64]chan Event)}
}

func (b *broker) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broker) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribe returns a channel of change events and a function that ends the
// subscription. Delivery never blocks the store; when the buffer is full the
// event is dropped and counted in Stats.DroppedEvents. The channel is closed
// by the cancel function or by Close.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

// Publish emits ev to subscribers. Components layered on the store (such as
// optimistic mutators) use it to report their own lifecycle. A zero At is
// set to the store's current time.
func (s *Store) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = s.clock.Now()
	}
	s.events.publish(ev)
}
