package cache

import "sync/atomic"

type counters struct {
	hits          atomic.Uint64
	misses        atomic.Uint64
	loads         atomic.Uint64
	loadErrors    atomic.Uint64
	purges        atomic.Uint64
	evicted       atomic.Uint64
	notifications atomic.Uint64
}

// Stats is a point-in-time view of cache activity. Counters are cumulative
// since construction.
type Stats struct {
	Entries        int
	PendingUpdated int
	PendingRemoved int

	Hits          uint64
	Misses        uint64
	Loads         uint64
	LoadErrors    uint64
	Purges        uint64
	Evicted       uint64
	Notifications uint64
}

// Stats returns current gauges and counters.
func (c *cache[K, V]) Stats() Stats {
	c.mu.RLock()
	entries := c.data.len()
	updated, removed := c.data.pending()
	c.mu.RUnlock()

	return Stats{
		Entries:        entries,
		PendingUpdated: updated,
		PendingRemoved: removed,
		Hits:           c.stats.hits.Load(),
		Misses:         c.stats.misses.Load(),
		Loads:          c.stats.loads.Load(),
		LoadErrors:     c.stats.loadErrors.Load(),
		Purges:         c.stats.purges.Load(),
		Evicted:        c.stats.evicted.Load(),
		Notifications:  c.stats.notifications.Load(),
	}
}
