package storecache

import (
	"context"
	"sync"
)

// mirrorOp is one write to the Persister. Ops are numbered while s.mu is held,
// so their order matches the order the in-memory changes happened in. An op
// that is no longer the newest for its key when its turn comes is skipped:
// a later Save or Delete for the key supersedes it.
type mirrorOp struct {
	fk   string
	seq  uint64
	save *PersistedEntry // nil deletes fk
}

// mirror orders Persister writes per full key.
type mirror struct {
	seq    uint64            // guarded by Store.mu
	latest map[string]uint64 // guarded by Store.mu

	mu    sync.Mutex
	locks map[string]*mirrorLock
}

type mirrorLock struct {
	lk   sync.Mutex
	refs int
}

func newMirror() *mirror {
	return &mirror{latest: make(map[string]uint64), locks: make(map[string]*mirrorLock)}
}

func (m *mirror) lock(fk string) func() {
	m.mu.Lock()
	ml, ok := m.locks[fk]
	if !ok {
		ml = &mirrorLock{}
		m.locks[fk] = ml
	}
	ml.refs++
	m.mu.Unlock()

	ml.lk.Lock()
	return func() {
		ml.lk.Unlock()
		m.mu.Lock()
		if ml.refs--; ml.refs == 0 {
			delete(m.locks, fk)
		}
		m.mu.Unlock()
	}
}

// saveOpLocked numbers a Save of e. s.mu must be held.
func (s *Store) saveOpLocked(e *entry) mirrorOp {
	if s.persist == nil {
		return mirrorOp{}
	}
	op := s.nextOpLocked(fullKey(e.dataType, e.key))
	op.save = &PersistedEntry{FullKey: op.fk, DataType: e.dataType, StoredAt: e.storedAt, Payload: e.data}
	return op
}

// deleteOpLocked numbers a Delete of fk. s.mu must be held.
func (s *Store) deleteOpLocked(fk string) mirrorOp {
	if s.persist == nil {
		return mirrorOp{}
	}
	return s.nextOpLocked(fk)
}

func (s *Store) nextOpLocked(fk string) mirrorOp {
	s.mirror.seq++
	s.mirror.latest[fk] = s.mirror.seq
	return mirrorOp{fk: fk, seq: s.mirror.seq}
}

// applyMirror performs op unless a newer op for the same key exists. Ops for
// one key never overlap.
func (s *Store) applyMirror(ctx context.Context, op mirrorOp) {
	if op.seq == 0 {
		return
	}
	unlock := s.mirror.lock(op.fk)
	defer unlock()

	s.mu.Lock()
	current := s.mirror.latest[op.fk] == op.seq
	s.mu.Unlock()
	if !current {
		return
	}

	if op.save != nil {
		if err := s.persist.Save(ctx, *op.save); err != nil {
			s.persistFailed("save", op.fk, err)
		}
	} else if err := s.persist.Delete(ctx, op.fk); err != nil {
		s.persistFailed("delete", op.fk, err)
	}

	s.mu.Lock()
	if s.mirror.latest[op.fk] == op.seq {
		delete(s.mirror.latest, op.fk)
	}
	s.mu.Unlock()
}
