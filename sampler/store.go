package sampler

import (
	"sync/atomic"
	"time"
)

// generation is the immutable current/previous pair. It is replaced as a
// whole, never edited in place.
type generation struct {
	current  *Snapshot
	previous *Snapshot
}

// Store keeps the two most recent snapshots of one collector.
//
// There is a single logical writer (the Sampler) and any number of readers.
// Readers always see one complete generation: a new current is never paired
// with a previous from an older generation.
type Store struct {
	gen atomic.Pointer[generation]
}

func NewStore() *Store {
	s := &Store{}
	s.gen.Store(&generation{})
	return s
}

// Load returns the current and previous snapshots as one consistent pair.
// Either may be nil before the first and second successful polls.
func (s *Store) Load() (current, previous *Snapshot) {
	g := s.gen.Load()
	return g.current, g.previous
}

// Push makes snap the current snapshot and demotes the old current to
// previous. It refuses snapshots that are not strictly newer than current.
func (s *Store) Push(snap *Snapshot) bool {
	if snap == nil {
		return false
	}
	for {
		old := s.gen.Load()
		if old.current != nil && !snap.CapturedAt.After(old.current.CapturedAt) {
			return false
		}
		next := &generation{current: snap, previous: old.current}
		if s.gen.CompareAndSwap(old, next) {
			return true
		}
	}
}

// CapturedAt returns the capture time of the current snapshot, or the zero
// time when the store is empty.
func (s *Store) CapturedAt() time.Time {
	cur, _ := s.Load()
	if cur == nil {
		return time.Time{}
	}
	return cur.CapturedAt
}
