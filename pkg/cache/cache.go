package cache

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEvictionInterval is the eviction cadence used when Config.Evict is
// set and Config.EvictionInterval is zero.
const DefaultEvictionInterval = 10 * time.Minute

var (
	// ErrClosed is returned by mutating operations on a closed cache.
	ErrClosed = errors.New("cache is closed")

	// ErrReentrantCall is the panic value raised when a blocking operation is
	// issued from inside the cache's own exclusive section, for example from
	// a loader passed to GetOrLoad. Waiting would deadlock.
	ErrReentrantCall = errors.New("cache: potential deadlock: blocking call issued from inside the exclusive section")
)

// LoadFunc produces the value for a missing key. Returning ok == false
// leaves the cache unchanged. The ctx passed in marks the exclusive section
// and must be the one used for any further call into other caches.
//
// Reentrance is only detected through that ctx. A loader that calls back
// into the same cache with an unrelated context, such as
// context.Background(), deadlocks instead of panicking.
type LoadFunc[V any] func(ctx context.Context) (value V, ok bool, err error)

// Config controls construction of a Cache.
//
//   - Evict == nil disables eviction entirely; Purge is a no-op.
//   - EvictionInterval == 0 means DefaultEvictionInterval when Evict is set.
//     A negative value starts with the eviction timer off.
//   - NotificationInterval <= 0 starts with notifications off.
//   - Publisher == nil disables change tracking.
type Config[K comparable, V any] struct {
	Name                 string
	Evict                EvictFunc[K, V]
	EvictionInterval     time.Duration
	Publisher            Publisher[K, V]
	NotificationInterval time.Duration
	Logger               *slog.Logger
}

// Cache is a concurrency-safe in-memory key/value cache.
//
// Reads take a shared lock and run in parallel with each other. Writes take
// the exclusive lock and are totally ordered with respect to each other and
// to reads: a read never observes a half-applied write, and every write is
// visible to every operation that starts after it returns.
//
// Cache owns two background goroutines (eviction and notification lanes)
// plus up to two timer goroutines. Call Close to stop them. A Cache that
// becomes unreachable without Close is closed by the runtime. Method values
// such as c.Get hold c and keep it open.
type Cache[K comparable, V any] struct {
	inner *cache[K, V]
}

type cache[K comparable, V any] struct {
	name   string
	logger *slog.Logger
	evict  EvictFunc[K, V]
	pub    Publisher[K, V]

	mu     sync.RWMutex
	data   *keyedStore[K, V]
	closed bool

	evictEvery  time.Duration
	notifyEvery time.Duration
	evictTimer  *repeater
	notifyTimer *repeater

	evictLane  *lane
	notifyLane *lane

	seq   atomic.Uint64
	stats counters
}

// New constructs a cache and starts its timers as configured.
//
// New never returns nil.
func New[K comparable, V any](cfg Config[K, V]) *Cache[K, V] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name != "" {
		logger = logger.With("cache", cfg.Name)
	}

	c := &cache[K, V]{
		name:   cfg.Name,
		logger: logger,
		evict:  cfg.Evict,
		pub:    cfg.Publisher,
		data:   newKeyedStore[K, V](cfg.Publisher != nil),
	}
	c.evictLane = newLane(laneName(cfg.Name, "eviction"), logger)
	c.notifyLane = newLane(laneName(cfg.Name, "notification"), logger)

	evictEvery := cfg.EvictionInterval
	if c.evict != nil && evictEvery == 0 {
		evictEvery = DefaultEvictionInterval
	}
	if c.evict != nil && evictEvery > 0 {
		c.mu.Lock()
		c.setEvictionIntervalLocked(evictEvery)
		c.mu.Unlock()
	}
	if c.pub != nil && cfg.NotificationInterval > 0 {
		c.mu.Lock()
		c.setNotificationIntervalLocked(cfg.NotificationInterval)
		c.mu.Unlock()
	}

	outer := &Cache[K, V]{inner: c}
	runtime.AddCleanup(outer, func(inner *cache[K, V]) { inner.Close() }, c)
	return outer
}

func laneName(name, purpose string) string {
	if name == "" {
		return purpose
	}
	return name + " (" + purpose + ")"
}

// Name returns the diagnostic name given at construction.
func (c *cache[K, V]) Name() string { return c.name }

// Get returns the value stored for key.
func (c *cache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	c.assertOutside(ctx)

	c.mu.RLock()
	v, ok := c.data.get(key)
	c.mu.RUnlock()

	if ok {
		c.stats.hits.Add(1)
	} else {
		c.stats.misses.Add(1)
	}
	return v, ok
}

// GetOrLoad returns the value for key, loading it with load on a miss.
//
// The lookup runs under the shared lock. On a miss, load is invoked while
// holding the exclusive lock, after re-checking for the key: when several
// callers miss the same key concurrently, only the first to get the lock
// loads, and all of them return the value it stored.
//
// A load error is returned as is and leaves the cache unchanged.
func (c *cache[K, V]) GetOrLoad(ctx context.Context, key K, load LoadFunc[V]) (V, bool, error) {
	if v, ok := c.Get(ctx, key); ok || load == nil {
		return v, ok, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	if v, ok := c.data.get(key); ok {
		return v, true, nil
	}
	if c.closed {
		return zero, false, ErrClosed
	}

	c.stats.loads.Add(1)
	v, ok, err := load(c.enter(ctx))
	if err != nil {
		c.stats.loadErrors.Add(1)
		return zero, false, err
	}
	if !ok {
		return zero, false, nil
	}
	c.data.put(key, v)
	return v, true, nil
}

// Set stores value for key, replacing any previous value.
func (c *cache[K, V]) Set(ctx context.Context, key K, value V) error {
	return c.write(ctx, func(s *keyedStore[K, V]) {
		s.put(key, value)
	})
}

// Remove deletes key. Removing an absent key is a no-op.
func (c *cache[K, V]) Remove(ctx context.Context, key K) error {
	return c.write(ctx, func(s *keyedStore[K, V]) {
		s.remove(key)
	})
}

// Merge stores every entry of entries as one atomic batch. Every entry is
// reported as updated in the next change notification, even when its value
// did not change.
func (c *cache[K, V]) Merge(ctx context.Context, entries map[K]V) error {
	if len(entries) == 0 {
		c.assertOutside(ctx)
		return nil
	}
	return c.write(ctx, func(s *keyedStore[K, V]) {
		for k, v := range entries {
			s.put(k, v)
		}
	})
}

// RemoveAll empties the cache.
func (c *cache[K, V]) RemoveAll(ctx context.Context) error {
	return c.write(ctx, func(s *keyedStore[K, V]) {
		s.clear()
	})
}

// RemoveMany deletes every present key in keys as one atomic batch. Absent
// keys are ignored; an empty keys does not touch the lock at all.
func (c *cache[K, V]) RemoveMany(ctx context.Context, keys ...K) error {
	_, err := c.removeMany(ctx, keys)
	return err
}

func (c *cache[K, V]) removeMany(ctx context.Context, keys []K) (int, error) {
	c.assertOutside(ctx)
	if len(keys) == 0 {
		return 0, nil
	}
	n := 0
	err := c.write(ctx, func(s *keyedStore[K, V]) {
		for _, k := range keys {
			if s.remove(k) {
				n++
			}
		}
	})
	return n, err
}

// Snapshot returns a copy of every entry. The copy may be stale as soon as
// it is returned.
func (c *cache[K, V]) Snapshot(ctx context.Context) map[K]V {
	c.assertOutside(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.copyItems()
}

// Len returns the number of entries.
func (c *cache[K, V]) Len(ctx context.Context) int {
	c.assertOutside(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.len()
}

// Close cancels both timers, stops the background lanes and rejects further
// mutation. Tasks queued on a lane but not yet started are discarded.
//
// Close is safe to call multiple times. It must not be called from an
// eviction predicate or a Publisher.
func (c *cache[K, V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.evictTimer = newRepeater(c.evictTimer, 0, nil, nil)
	c.notifyTimer = newRepeater(c.notifyTimer, 0, nil, nil)
	c.mu.Unlock()

	// Stop lanes outside the lock: a running tick may be waiting for it.
	c.evictLane.stop()
	c.notifyLane.stop()
	c.logger.Debug("cache: closed")
	return nil
}

// write runs fn under the exclusive lock.
func (c *cache[K, V]) write(ctx context.Context, fn func(s *keyedStore[K, V])) error {
	c.assertOutside(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	fn(c.data)
	return nil
}
