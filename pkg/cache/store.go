package cache

import "maps"

// keyedStore holds the authoritative key→value mapping together with the
// change accumulators drained by the notification coalescer.
//
// keyedStore has no locking of its own. Every method must be called with
// the owning cache's lock held: the read-only methods under at least the
// shared lock, everything else under the exclusive lock.
//
// Invariants (at any point no writer is executing):
//   - a key in updated is present in items with the same value
//   - updated and removed are disjoint
type keyedStore[K comparable, V any] struct {
	items   map[K]V
	updated map[K]V
	removed map[K]struct{}

	// track is false when nobody consumes change notifications.
	track bool
}

func newKeyedStore[K comparable, V any](track bool) *keyedStore[K, V] {
	return &keyedStore[K, V]{
		items:   make(map[K]V),
		updated: make(map[K]V),
		removed: make(map[K]struct{}),
		track:   track,
	}
}

func (s *keyedStore[K, V]) get(key K) (V, bool) {
	v, ok := s.items[key]
	return v, ok
}

func (s *keyedStore[K, V]) len() int { return len(s.items) }

// put inserts or replaces key. A later put always wins over an earlier
// remove of the same key within one notification interval.
func (s *keyedStore[K, V]) put(key K, value V) {
	s.items[key] = value
	if s.track {
		delete(s.removed, key)
		s.updated[key] = value
	}
}

// remove deletes key and reports whether it was present.
func (s *keyedStore[K, V]) remove(key K) bool {
	if _, ok := s.items[key]; !ok {
		return false
	}
	delete(s.items, key)
	if s.track {
		delete(s.updated, key)
		s.removed[key] = struct{}{}
	}
	return true
}

// clear removes every entry and returns how many were present.
func (s *keyedStore[K, V]) clear() int {
	n := len(s.items)
	if s.track {
		for key := range s.items {
			s.removed[key] = struct{}{}
		}
		clear(s.updated)
	}
	s.items = make(map[K]V)
	return n
}

func (s *keyedStore[K, V]) copyItems() map[K]V {
	out := make(map[K]V, len(s.items))
	maps.Copy(out, s.items)
	return out
}

func (s *keyedStore[K, V]) pending() (updated, removed int) {
	return len(s.updated), len(s.removed)
}

// drain swaps the accumulators for empty ones and returns the old ones.
// The caller owns the returned maps.
func (s *keyedStore[K, V]) drain() (map[K]V, map[K]struct{}) {
	updated, removed := s.updated, s.removed
	s.updated = make(map[K]V)
	s.removed = make(map[K]struct{})
	return updated, removed
}

// resetPending discards accumulated change debt.
func (s *keyedStore[K, V]) resetPending() {
	s.updated = make(map[K]V)
	s.removed = make(map[K]struct{})
}
