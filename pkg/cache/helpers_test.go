package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type atomicCounter struct{ n atomic.Int64 }

func (c *atomicCounter) inc() int64 { return c.n.Add(1) }
func (c *atomicCounter) get() int64 { return c.n.Load() }

type atomicAny struct {
	mu sync.Mutex
	v  any
}

func (a *atomicAny) set(v any) {
	a.mu.Lock()
	a.v = v
	a.mu.Unlock()
}

func (a *atomicAny) get() any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

// recorder is a Publisher that forwards every change to a channel.
type recorder struct {
	ch chan Change[string, int]
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Change[string, int], 64)}
}

func (r *recorder) Publish(_ context.Context, ch Change[string, int]) {
	r.ch <- ch
}

func (r *recorder) next(t *testing.T) Change[string, int] {
	t.Helper()
	select {
	case ch := <-r.ch:
		return ch
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no change published")
		return Change[string, int]{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ch := <-r.ch:
		require.FailNow(t, "unexpected change", "%+v", ch)
	case <-time.After(wait):
	}
}
