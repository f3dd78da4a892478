package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLane_RunsInOrder(t *testing.T) {
	l := newLane("test", quietLogger())
	defer l.stop()

	var got []int
	for i := 0; i < 5; i++ {
		require.NoError(t, l.do(context.Background(), func() { got = append(got, i) }))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLane_SurvivesPanic(t *testing.T) {
	l := newLane("test", quietLogger())
	defer l.stop()

	require.NoError(t, l.do(context.Background(), func() { panic("boom") }))

	ran := false
	require.NoError(t, l.do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLane_StopIsIdempotent(t *testing.T) {
	l := newLane("test", quietLogger())
	l.stop()
	l.stop()

	assert.ErrorIs(t, l.do(context.Background(), func() {}), ErrClosed)
	assert.False(t, l.offer(func() {}))
}

func TestLane_DoHonoursContext(t *testing.T) {
	l := newLane("test", quietLogger())
	defer l.stop()

	release := make(chan struct{})
	require.True(t, l.offer(func() { <-release }))
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	// Fill the buffer so do has to wait.
	for l.offer(func() {}) {
	}
	assert.ErrorIs(t, l.do(ctx, func() {}), context.DeadlineExceeded)
}

func TestRepeater_FiresUntilCancelled(t *testing.T) {
	l := newLane("test", quietLogger())
	defer l.stop()

	var fired atomicCounter
	r := newRepeater(nil, 5*time.Millisecond, l, func() { fired.inc() })
	assert.False(t, r.running(), "not started before resume")
	r.resume()
	require.True(t, r.running())

	require.Eventually(t, func() bool { return fired.get() >= 3 }, 2*time.Second, time.Millisecond)

	r.cancel()
	r.cancel()
	assert.False(t, r.running())

	// Let any tick already queued on the lane drain.
	require.NoError(t, l.do(context.Background(), func() {}))
	after := fired.get()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, fired.get())
}

func TestRepeater_NonPositiveIsNil(t *testing.T) {
	l := newLane("test", quietLogger())
	defer l.stop()

	old := newRepeater(nil, time.Hour, l, func() {})
	old.resume()

	assert.Nil(t, newRepeater(old, 0, l, func() {}))
	assert.False(t, old.running())

	var r *repeater
	r.resume()
	r.cancel()
	assert.False(t, r.running())
}

func TestRepeater_ResumeAfterCancelDoesNothing(t *testing.T) {
	l := newLane("test", quietLogger())
	defer l.stop()

	r := newRepeater(nil, time.Millisecond, l, func() { t.Error("must not fire") })
	r.cancel()
	r.resume()
	assert.False(t, r.running())
	time.Sleep(20 * time.Millisecond)
}
