package cache

import "context"

// sectionKey tags a context with the cache whose exclusive section the
// holder of that context is running in.
type sectionKey struct{}

// enter returns a context marking that the caller holds c's exclusive lock.
func (c *cache[K, V]) enter(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sectionKey{}, c)
}

// inside reports whether ctx was issued from c's exclusive section.
func (c *cache[K, V]) inside(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	owner, ok := ctx.Value(sectionKey{}).(*cache[K, V])
	return ok && owner == c
}

// assertOutside panics with ErrReentrantCall when ctx comes from c's own
// exclusive section. sync.RWMutex is not reentrant, so the call would
// otherwise hang forever.
func (c *cache[K, V]) assertOutside(ctx context.Context) {
	if c.inside(ctx) {
		panic(ErrReentrantCall)
	}
}
