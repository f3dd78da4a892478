package cache

import (
	"context"
	"time"
)

// DidChangeEvent names the event carried by every Change.
const DidChangeEvent = "cache.did_change"

// Change is the net delta of a cache between two notifications.
//
// A key appears in at most one of Updated and Removed, according to the last
// operation applied to it. An entry added and removed within the same
// interval appears only in Removed. Removed is in no particular order.
type Change[K comparable, V any] struct {
	Event   string
	Cache   string
	Seq     uint64
	Updated map[K]V
	Removed []K
	At      time.Time
}

// Empty reports whether the change carries nothing.
func (ch Change[K, V]) Empty() bool {
	return len(ch.Updated) == 0 && len(ch.Removed) == 0
}

// Publisher receives change notifications. Publish is called on the cache's
// notification goroutine, never while a cache lock is held, and never
// concurrently with itself for the same cache. It must not call Close or
// FlushNotifications on the cache that invoked it.
type Publisher[K comparable, V any] interface {
	Publish(ctx context.Context, ch Change[K, V])
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc[K comparable, V any] func(ctx context.Context, ch Change[K, V])

// Publish calls f(ctx, ch).
func (f PublisherFunc[K, V]) Publish(ctx context.Context, ch Change[K, V]) { f(ctx, ch) }

// Fanout returns a Publisher delivering every change to each of pubs in
// order. nil entries are skipped.
func Fanout[K comparable, V any](pubs ...Publisher[K, V]) Publisher[K, V] {
	var live []Publisher[K, V]
	for _, p := range pubs {
		if p != nil {
			live = append(live, p)
		}
	}
	return PublisherFunc[K, V](func(ctx context.Context, ch Change[K, V]) {
		for _, p := range live {
			p.Publish(ctx, ch)
		}
	})
}

// NotificationInterval returns the current notification cadence. Zero means
// changes are only delivered by FlushNotifications.
func (c *cache[K, V]) NotificationInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notifyEvery
}

// SetNotificationInterval replaces the notification timer, like
// SetEvictionInterval. When d differs from the current interval, every
// change accumulated so far is discarded: a subscriber batching on the old
// cadence never receives it under the new one.
func (c *cache[K, V]) SetNotificationInterval(ctx context.Context, d time.Duration) error {
	c.assertOutside(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.setNotificationIntervalLocked(d)
	return nil
}

func (c *cache[K, V]) setNotificationIntervalLocked(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if d != c.notifyEvery {
		c.data.resetPending()
	}
	c.notifyEvery = d

	if c.pub == nil {
		c.notifyTimer = newRepeater(c.notifyTimer, 0, nil, nil)
		return
	}
	c.notifyTimer = newRepeater(c.notifyTimer, d, c.notifyLane, c.notifyTick)
	c.notifyTimer.resume()
}

func (c *cache[K, V]) notifyTick() {
	c.flush(context.Background())
}

// FlushNotifications delivers the accumulated delta now instead of waiting
// for the next tick. It reports whether anything was published. The delivery
// happens on the notification goroutine, so flushes and ticks stay in order.
func (c *cache[K, V]) FlushNotifications(ctx context.Context) (bool, error) {
	c.assertOutside(ctx)
	if c.pub == nil {
		return false, nil
	}
	var sent bool
	err := c.notifyLane.do(ctx, func() {
		sent = c.flush(ctx)
	})
	return sent, err
}

// flush drains the accumulators under the exclusive lock and publishes the
// delta after releasing it. Must run on the notification lane.
func (c *cache[K, V]) flush(ctx context.Context) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	updated, removed := c.data.drain()
	c.mu.Unlock()

	if len(updated) == 0 && len(removed) == 0 {
		return false
	}

	keys := make([]K, 0, len(removed))
	for k := range removed {
		keys = append(keys, k)
	}
	ch := Change[K, V]{
		Event:   DidChangeEvent,
		Cache:   c.name,
		Seq:     c.seq.Add(1),
		Updated: updated,
		Removed: keys,
		At:      time.Now(),
	}
	c.pub.Publish(ctx, ch)
	c.stats.notifications.Add(1)
	return true
}
