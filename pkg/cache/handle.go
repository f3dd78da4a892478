package cache

import (
	"context"
	"time"
)

// Name returns the diagnostic name given at construction.
func (c *Cache[K, V]) Name() string { return c.inner.Name() }

// Get returns the value stored for key.
func (c *Cache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	return c.inner.Get(ctx, key)
}

// GetOrLoad returns the value for key, loading it with load on a miss.
//
// load runs under the exclusive lock after re-checking for the key, so
// concurrent misses on one key load once. A load error is returned as is and
// leaves the cache unchanged.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load LoadFunc[V]) (V, bool, error) {
	return c.inner.GetOrLoad(ctx, key, load)
}

// Set stores value for key, replacing any previous value.
func (c *Cache[K, V]) Set(ctx context.Context, key K, value V) error {
	return c.inner.Set(ctx, key, value)
}

// Remove deletes key. Removing an absent key is a no-op.
func (c *Cache[K, V]) Remove(ctx context.Context, key K) error {
	return c.inner.Remove(ctx, key)
}

// Merge stores every entry of entries as one atomic batch. Every entry is
// reported as updated, even when its value did not change.
func (c *Cache[K, V]) Merge(ctx context.Context, entries map[K]V) error {
	return c.inner.Merge(ctx, entries)
}

// RemoveAll empties the cache.
func (c *Cache[K, V]) RemoveAll(ctx context.Context) error {
	return c.inner.RemoveAll(ctx)
}

// RemoveMany deletes every present key in keys as one atomic batch.
func (c *Cache[K, V]) RemoveMany(ctx context.Context, keys ...K) error {
	return c.inner.RemoveMany(ctx, keys...)
}

// Snapshot returns a copy of every entry.
func (c *Cache[K, V]) Snapshot(ctx context.Context) map[K]V {
	return c.inner.Snapshot(ctx)
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len(ctx context.Context) int { return c.inner.Len(ctx) }

// Close cancels both timers, stops the background goroutines and rejects
// further mutation. It is safe to call more than once.
func (c *Cache[K, V]) Close() error { return c.inner.Close() }

// EvictionInterval returns the current eviction cadence; zero means off.
func (c *Cache[K, V]) EvictionInterval() time.Duration { return c.inner.EvictionInterval() }

// SetEvictionInterval replaces the eviction timer. d <= 0 turns it off.
func (c *Cache[K, V]) SetEvictionInterval(ctx context.Context, d time.Duration) error {
	return c.inner.SetEvictionInterval(ctx, d)
}

// Purge evaluates the eviction predicate against a snapshot with hint and
// removes every match in one batch. It returns the number removed.
func (c *Cache[K, V]) Purge(ctx context.Context, hint any) (int, error) {
	return c.inner.Purge(ctx, hint)
}

// NotificationInterval returns the current notification cadence; zero means
// changes are only delivered by FlushNotifications.
func (c *Cache[K, V]) NotificationInterval() time.Duration { return c.inner.NotificationInterval() }

// SetNotificationInterval replaces the notification timer. Changing the
// interval discards every change accumulated so far.
func (c *Cache[K, V]) SetNotificationInterval(ctx context.Context, d time.Duration) error {
	return c.inner.SetNotificationInterval(ctx, d)
}

// FlushNotifications publishes the accumulated delta now and reports whether
// anything was sent.
func (c *Cache[K, V]) FlushNotifications(ctx context.Context) (bool, error) {
	return c.inner.FlushNotifications(ctx)
}

// Stats returns current gauges and counters.
func (c *Cache[K, V]) Stats() Stats { return c.inner.Stats() }
