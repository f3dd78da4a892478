// Package cache implements a single-process, concurrency-safe, in-memory
// key/value cache with predicate-driven eviction and coalesced change
// notifications.
//
// Goals for this package:
//   - Parallel reads, serialized writes: an RWMutex guards the map and the
//     change accumulators together, so every write updates both atomically
//   - Periodic full-scan eviction driven by a user predicate evaluated
//     against a snapshot, outside the lock
//   - Net-effect change notifications (updated entries, removed keys)
//     delivered at most once per interval to a Publisher
//   - Both intervals changeable at runtime without leaking timers
//   - Own and cleanly stop every background goroutine (Close)
//
// Blocking operations take a context.Context. The context given to a
// GetOrLoad loader marks the cache's exclusive section; passing it back into
// the same cache panics with ErrReentrantCall instead of deadlocking.
package cache
