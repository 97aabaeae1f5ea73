package timeout

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_FiresOnceAfterDeadline(t *testing.T) {
	c := NewCoordinator(10 * time.Millisecond)
	var fired atomic.Int32
	start := time.Now()
	firedAt := make(chan time.Time, 1)

	c.Start("s1", 80*time.Millisecond, nil, func() {
		fired.Add(1)
		firedAt <- time.Now()
	})

	select {
	case at := <-firedAt:
		assert.GreaterOrEqual(t, at.Sub(start), 80*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timeout did not fire")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
	assert.False(t, c.Active("s1"), "countdown disposes itself after firing")
}

func TestStart_TicksDecrease(t *testing.T) {
	c := NewCoordinator(10 * time.Millisecond)
	var (
		mu    sync.Mutex
		ticks []time.Duration
	)
	done := make(chan struct{})

	c.Start("s1", 100*time.Millisecond, func(remaining time.Duration) {
		mu.Lock()
		ticks = append(ticks, remaining)
		mu.Unlock()
	}, func() { close(done) })

	<-done
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, ticks)
	for i := 1; i < len(ticks); i++ {
		assert.Less(t, ticks[i], ticks[i-1], "remaining time must strictly decrease")
	}
	for _, r := range ticks {
		assert.Greater(t, r, time.Duration(0))
	}
}

func TestDisposer_PreventsTimeout(t *testing.T) {
	c := NewCoordinator(5 * time.Millisecond)
	var fired atomic.Bool

	dispose := c.Start("s1", 40*time.Millisecond, nil, func() { fired.Store(true) })
	dispose()
	dispose()

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.Equal(t, 0, c.Len())
}

func TestCancel_AfterFireIsNoop(t *testing.T) {
	c := NewCoordinator(5 * time.Millisecond)
	done := make(chan struct{})
	dispose := c.Start("s1", 10*time.Millisecond, nil, func() { close(done) })

	<-done
	assert.NotPanics(t, func() {
		dispose()
		c.Cancel("s1")
		c.Cancel("s1")
	})
}

func TestStart_ReplacesPriorCountdown(t *testing.T) {
	c := NewCoordinator(5 * time.Millisecond)
	var first, second atomic.Int32

	c.Start("s1", 30*time.Millisecond, nil, func() { first.Add(1) })
	c.Start("s1", 60*time.Millisecond, nil, func() { second.Add(1) })
	assert.Equal(t, 1, c.Len())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load(), "replaced countdown must never fire")
	assert.Equal(t, int32(1), second.Load())
}

func TestStaleDisposerDoesNotCancelReplacement(t *testing.T) {
	c := NewCoordinator(5 * time.Millisecond)
	var fired atomic.Bool

	stale := c.Start("s1", time.Second, nil, nil)
	c.Start("s1", 30*time.Millisecond, nil, func() { fired.Store(true) })
	stale()

	time.Sleep(100 * time.Millisecond)
	assert.True(t, fired.Load())
}

func TestRemainingAndStop(t *testing.T) {
	c := NewCoordinator(time.Second)
	var fired atomic.Bool
	c.Start("s1", time.Minute, nil, func() { fired.Store(true) })
	c.Start("s2", time.Minute, nil, nil)

	left, ok := c.Remaining("s1")
	require.True(t, ok)
	assert.InDelta(t, float64(time.Minute), float64(left), float64(time.Second))

	_, ok = c.Remaining("missing")
	assert.False(t, ok)

	c.Stop()
	assert.Equal(t, 0, c.Len())
	assert.False(t, fired.Load())
}
