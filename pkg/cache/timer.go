package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// lane is a serial execution context backed by a single goroutine.
// Tasks run one at a time in submission order. Each scheduler owns one lane,
// so ticks of the same scheduler never overlap, even across reconfiguration.
type lane struct {
	name   string
	logger *slog.Logger

	tasks chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newLane(name string, logger *slog.Logger) *lane {
	l := &lane{
		name:   name,
		logger: logger,
		tasks:  make(chan func(), 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.loop()
	return l
}

func (l *lane) loop() {
	defer close(l.done)
	for {
		select {
		case <-l.quit:
			return
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

// run executes fn and recovers a panic so the lane survives to run the next
// task. A panic raised by user code on a background lane is logged, not
// propagated: there is no caller to propagate it to.
func (l *lane) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("cache: background task panicked", "lane", l.name, "panic", r)
		}
	}()
	fn()
}

// offer queues fn without blocking. It returns false when a task is already
// waiting or the lane is stopped; timer ticks use this so that a slow task
// coalesces ticks instead of piling them up.
func (l *lane) offer(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	default:
		return false
	}
}

// do runs fn on the lane and waits for it to finish.
func (l *lane) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// Stopped before the task ran; it is discarded.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop terminates the lane and waits for the running task, if any. Queued
// tasks that have not started are discarded. stop is idempotent and must not
// be called from a task running on the same lane.
func (l *lane) stop() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}

// repeater is a cancellable repeating timer that posts fire onto a lane.
//
// Lifecycle: newRepeater returns it scheduled but idle; resume starts it;
// cancel stops it for good. There is no way back from cancelled: a new
// interval always means a new repeater.
type repeater struct {
	every time.Duration
	lane  *lane
	fire  func()

	started   atomic.Bool
	cancelled atomic.Bool
	quit      chan struct{}
	once      sync.Once
}

// newRepeater cancels old (which may be nil) and, when every is positive,
// returns a new repeater that will call fire on l every interval, first one
// interval after resume. It returns nil when every <= 0.
//
// The new repeater is not started. The caller resumes it once the state the
// ticks depend on has been committed.
func newRepeater(old *repeater, every time.Duration, l *lane, fire func()) *repeater {
	old.cancel()
	if every <= 0 {
		return nil
	}
	return &repeater{
		every: every,
		lane:  l,
		fire:  fire,
		quit:  make(chan struct{}),
	}
}

// resume starts the repeater. Calling it more than once, on a nil repeater,
// or after cancel does nothing.
func (r *repeater) resume() {
	if r == nil || r.cancelled.Load() || !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.loop()
}

func (r *repeater) loop() {
	t := time.NewTicker(r.every)
	defer t.Stop()
	for {
		select {
		case <-r.quit:
			return
		case <-t.C:
			r.lane.offer(r.tick)
		}
	}
}

// tick is what actually runs on the lane. A tick delivered after cancel is
// dropped.
func (r *repeater) tick() {
	if r.cancelled.Load() {
		return
	}
	r.fire()
}

// cancel stops the repeater. It is safe on nil and idempotent.
func (r *repeater) cancel() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		r.cancelled.Store(true)
		close(r.quit)
	})
}

// running reports whether the repeater has been resumed and not cancelled.
func (r *repeater) running() bool {
	return r != nil && r.started.Load() && !r.cancelled.Load()
}
