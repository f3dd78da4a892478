package cache

import (
	"context"
	"time"
)

// EvictFunc decides whether an entry should be purged. hint is whatever the
// caller passed to Purge; it is nil when the purge was triggered by the
// eviction timer.
//
// EvictFunc runs against a snapshot, outside every lock, so it may be slow.
// It must not call Close.
type EvictFunc[K comparable, V any] func(key K, value V, hint any) bool

// EvictionInterval returns the current eviction cadence. Zero means the
// eviction timer is off.
func (c *cache[K, V]) EvictionInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evictEvery
}

// SetEvictionInterval replaces the eviction timer. The old timer is always
// cancelled; a positive d schedules a new one firing every d, the first time
// d from now. d <= 0 leaves eviction to explicit Purge calls.
//
// The change is serialized with every other write.
func (c *cache[K, V]) SetEvictionInterval(ctx context.Context, d time.Duration) error {
	c.assertOutside(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.setEvictionIntervalLocked(d)
	return nil
}

func (c *cache[K, V]) setEvictionIntervalLocked(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.evictEvery = d

	// Without a predicate a tick has nothing to do; keep the interval for
	// reporting but schedule nothing.
	if c.evict == nil {
		c.evictTimer = newRepeater(c.evictTimer, 0, nil, nil)
		return
	}
	c.evictTimer = newRepeater(c.evictTimer, d, c.evictLane, c.purgeTick)
	c.evictTimer.resume()
}

func (c *cache[K, V]) purgeTick() {
	n, err := c.Purge(context.Background(), nil)
	if err != nil {
		c.logger.Debug("cache: scheduled purge skipped", "err", err)
		return
	}
	if n > 0 {
		c.logger.Debug("cache: evicted entries", "count", n)
	}
}

// Purge evaluates the eviction predicate against a snapshot of the cache and
// removes every entry it selects in one atomic batch. It returns the number
// of entries removed. An entry changed or removed between the snapshot and
// the batch is still removed if its key was selected.
//
// Purge runs the predicate on the calling goroutine. It is a no-op when no
// predicate was configured.
func (c *cache[K, V]) Purge(ctx context.Context, hint any) (int, error) {
	c.assertOutside(ctx)
	if c.evict == nil {
		return 0, nil
	}

	c.stats.purges.Add(1)
	frozen := c.Snapshot(ctx)
	var doomed []K
	for k, v := range frozen {
		if c.evict(k, v, hint) {
			doomed = append(doomed, k)
		}
	}

	n, err := c.removeMany(ctx, doomed)
	c.stats.evicted.Add(uint64(n))
	return n, err
}
