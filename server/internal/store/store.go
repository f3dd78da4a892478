package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/deltacache/pkg/cache"
	"github.com/obsidianstack/deltacache/server/internal/config"
	"github.com/obsidianstack/deltacache/server/internal/rules"
)

// Sources record which ingest path last wrote an entry.
const (
	SourceHTTP     = "http"
	SourceGRPC     = "grpc"
	SourceUpstream = "upstream"
)

// Entry is a value together with where and when it was last written.
// Entries are immutable once stored; every write stores a new Entry.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	Source    string          `json:"source"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Size returns the encoded size of the value in bytes.
func (e *Entry) Size() int { return len(e.Value) }

// Item is an entry with its key, as returned by List.
type Item struct {
	Key string `json:"key"`
	Entry
}

// LoadFunc fetches the value for key from an origin.
type LoadFunc func(ctx context.Context, key string) (json.RawMessage, bool, error)

// Store is a thread-safe entry store backed by a cache.Cache.
type Store struct {
	c     *cache.Cache[string, *Entry]
	rules atomic.Pointer[rules.Set]
	now   func() time.Time // injectable for deterministic tests
}

// New builds a Store from cfg. pub receives every coalesced change and may be nil.
func New(cfg config.CacheConfig, pub cache.Publisher[string, *Entry]) (*Store, error) {
	set, err := rules.Compile(cfg.EvictionRules)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s := &Store{now: time.Now}
	s.rules.Store(&set)

	s.c = cache.New(cache.Config[string, *Entry]{
		Name:                 cfg.Name,
		Evict:                s.shouldEvict,
		EvictionInterval:     evictionInterval(cfg.EvictionInterval),
		Publisher:            pub,
		NotificationInterval: cfg.NotificationInterval,
		Logger:               slog.Default().With("component", "store"),
	})
	return s, nil
}

// evictionInterval maps the config meaning of zero (off) onto the cache's
// (default interval).
func evictionInterval(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

// shouldEvict is the cache's eviction predicate. hint is a rules.Condition
// for caller-initiated purges and nil for scheduled ones.
func (s *Store) shouldEvict(key string, e *Entry, hint any) bool {
	f := s.facts(key, e)
	if c, ok := hint.(rules.Condition); ok && c.Match(f) {
		return true
	}
	if name, ok := s.rules.Load().Match(f); ok {
		slog.Debug("store: rule matched", "rule", name, "key", key)
		return true
	}
	return false
}

func (s *Store) facts(key string, e *Entry) rules.Facts {
	return rules.Facts{
		Key:    key,
		Age:    s.now().Sub(e.UpdatedAt),
		Size:   e.Size(),
		Source: e.Source,
	}
}

func (s *Store) entry(value json.RawMessage, source string) *Entry {
	return &Entry{Value: value, Source: source, UpdatedAt: s.now()}
}

// Name returns the cache name.
func (s *Store) Name() string { return s.c.Name() }

// Put stores value under key, replacing any previous entry.
// Callers must not modify value after calling Put.
func (s *Store) Put(ctx context.Context, key string, value json.RawMessage, source string) (*Entry, error) {
	e := s.entry(value, source)
	if err := s.c.Set(ctx, key, e); err != nil {
		return nil, fmt.Errorf("store: put %q: %w", key, err)
	}
	return e, nil
}

// Get returns the entry for key.
func (s *Store) Get(ctx context.Context, key string) (*Entry, bool) {
	return s.c.Get(ctx, key)
}

// GetOrLoad returns the entry for key, calling load on a miss and storing
// what it returns. Concurrent misses on the same key load once.
func (s *Store) GetOrLoad(ctx context.Context, key string, load LoadFunc) (*Entry, bool, error) {
	e, ok, err := s.c.GetOrLoad(ctx, key, func(ctx context.Context) (*Entry, bool, error) {
		v, ok, err := load(ctx, key)
		if err != nil || !ok {
			return nil, false, err
		}
		return s.entry(v, SourceUpstream), true, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: load %q: %w", key, err)
	}
	return e, ok, nil
}

// Merge stores every value in one atomic batch and returns how many were written.
func (s *Store) Merge(ctx context.Context, values map[string]json.RawMessage, source string) (int, error) {
	batch := make(map[string]*Entry, len(values))
	now := s.now()
	for k, v := range values {
		batch[k] = &Entry{Value: v, Source: source, UpdatedAt: now}
	}
	if err := s.c.Merge(ctx, batch); err != nil {
		return 0, fmt.Errorf("store: merge: %w", err)
	}
	return len(batch), nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.c.Remove(ctx, key); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

// DeleteMany removes every listed key in one atomic batch.
func (s *Store) DeleteMany(ctx context.Context, keys []string) error {
	if err := s.c.RemoveMany(ctx, keys...); err != nil {
		return fmt.Errorf("store: delete many: %w", err)
	}
	return nil
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.c.RemoveAll(ctx); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

// Snapshot returns a copy of every entry keyed by key.
func (s *Store) Snapshot(ctx context.Context) map[string]*Entry {
	return s.c.Snapshot(ctx)
}

// List returns every entry sorted by key.
func (s *Store) List(ctx context.Context) []Item {
	snap := s.c.Snapshot(ctx)
	out := make([]Item, 0, len(snap))
	for k, e := range snap {
		out = append(out, Item{Key: k, Entry: *e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Count returns the number of entries.
func (s *Store) Count(ctx context.Context) int {
	return s.c.Len(ctx)
}

// Purge evaluates the eviction rules now, plus extra when it is non-nil,
// and returns the number of entries removed.
func (s *Store) Purge(ctx context.Context, extra *rules.Condition) (int, error) {
	var hint any
	if extra != nil {
		hint = *extra
	}
	n, err := s.c.Purge(ctx, hint)
	if err != nil {
		return n, fmt.Errorf("store: purge: %w", err)
	}
	return n, nil
}

// Flush publishes pending changes now and reports whether anything was sent.
func (s *Store) Flush(ctx context.Context) (bool, error) {
	sent, err := s.c.FlushNotifications(ctx)
	if err != nil {
		return false, fmt.Errorf("store: flush: %w", err)
	}
	return sent, nil
}

// Intervals returns the current eviction and notification intervals.
// A zero eviction interval means scheduled eviction is off.
func (s *Store) Intervals() (eviction, notification time.Duration) {
	return s.c.EvictionInterval(), s.c.NotificationInterval()
}

// SetIntervals changes both intervals at runtime. A negative value leaves
// the corresponding interval unchanged.
func (s *Store) SetIntervals(ctx context.Context, eviction, notification time.Duration) error {
	if eviction >= 0 && eviction != s.c.EvictionInterval() {
		if err := s.c.SetEvictionInterval(ctx, eviction); err != nil {
			return fmt.Errorf("store: set eviction interval: %w", err)
		}
	}
	if notification >= 0 && notification != s.c.NotificationInterval() {
		if err := s.c.SetNotificationInterval(ctx, notification); err != nil {
			return fmt.Errorf("store: set notification interval: %w", err)
		}
	}
	return nil
}

// Reconfigure applies the reloadable parts of cfg: rules and both intervals.
// Invalid rules leave the store unchanged.
func (s *Store) Reconfigure(ctx context.Context, cfg config.CacheConfig) error {
	set, err := rules.Compile(cfg.EvictionRules)
	if err != nil {
		return fmt.Errorf("store: reconfigure: %w", err)
	}
	s.rules.Store(&set)
	return s.SetIntervals(ctx, cfg.EvictionInterval, cfg.NotificationInterval)
}

// Rules returns the number of active eviction rules.
func (s *Store) Rules() int { return s.rules.Load().Len() }

// Stats returns cache activity counters.
func (s *Store) Stats() cache.Stats { return s.c.Stats() }

// Close stops the background eviction and notification work.
func (s *Store) Close() error { return s.c.Close() }
