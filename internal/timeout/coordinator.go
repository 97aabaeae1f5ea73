// Package timeout runs the per-session acceptance countdown.
package timeout

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	stateRunning int32 = iota
	stateFired
	stateCancelled
)

// Disposer cancels the countdown it was returned for. It is idempotent and a
// no-op once the countdown has fired.
type Disposer func()

type countdown struct {
	deadline time.Time
	state    atomic.Int32
	stop     chan struct{}
}

// cancel reports whether this call stopped a running countdown.
func (cd *countdown) cancel() bool {
	if cd.state.CompareAndSwap(stateRunning, stateCancelled) {
		close(cd.stop)
		return true
	}
	return false
}

// Coordinator keeps at most one countdown per session. onTimeout fires exactly
// once unless the countdown is cancelled first.
type Coordinator struct {
	mu     sync.Mutex
	timers map[string]*countdown
	tick   time.Duration
	logger zerolog.Logger
}

func NewCoordinator(tick time.Duration) *Coordinator {
	return &Coordinator{
		timers: make(map[string]*countdown),
		tick:   tick,
		logger: log.With().Str("component", "timeout").Logger(),
	}
}

// Start begins a countdown of d for sessionID, replacing any countdown already
// running for it. onTick receives the remaining time every tick; onTimeout is
// called once when the deadline passes. Either callback may be nil.
func (c *Coordinator) Start(sessionID string, d time.Duration, onTick func(remaining time.Duration), onTimeout func()) Disposer {
	cd := &countdown{
		deadline: time.Now().Add(d),
		stop:     make(chan struct{}),
	}

	c.mu.Lock()
	if prev, ok := c.timers[sessionID]; ok {
		prev.cancel()
		c.logger.Debug().Str("sessionId", sessionID).Msg("replaced running countdown")
	}
	c.timers[sessionID] = cd
	c.mu.Unlock()

	go c.run(sessionID, cd, d, onTick, onTimeout)

	return func() {
		if cd.cancel() {
			c.forget(sessionID, cd)
		}
	}
}

func (c *Coordinator) run(sessionID string, cd *countdown, d time.Duration, onTick func(time.Duration), onTimeout func()) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-cd.stop:
			return
		case <-ticker.C:
			remaining := time.Until(cd.deadline)
			if remaining > 0 && onTick != nil && cd.state.Load() == stateRunning {
				onTick(remaining)
			}
		case <-timer.C:
			if !cd.state.CompareAndSwap(stateRunning, stateFired) {
				return
			}
			c.forget(sessionID, cd)
			c.logger.Debug().Str("sessionId", sessionID).Msg("countdown expired")
			if onTimeout != nil {
				onTimeout()
			}
			return
		}
	}
}

func (c *Coordinator) forget(sessionID string, cd *countdown) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timers[sessionID] == cd {
		delete(c.timers, sessionID)
	}
}

// Cancel stops the countdown for sessionID if one is running.
func (c *Coordinator) Cancel(sessionID string) {
	c.mu.Lock()
	cd, ok := c.timers[sessionID]
	if ok {
		delete(c.timers, sessionID)
	}
	c.mu.Unlock()
	if ok {
		cd.cancel()
	}
}

// Remaining returns the time left for sessionID and whether a countdown is running.
func (c *Coordinator) Remaining(sessionID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cd, ok := c.timers[sessionID]
	if !ok {
		return 0, false
	}
	left := time.Until(cd.deadline)
	if left < 0 {
		left = 0
	}
	return left, true
}

func (c *Coordinator) Active(sessionID string) bool {
	_, ok := c.Remaining(sessionID)
	return ok
}

func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Stop cancels every running countdown.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	timers := c.timers
	c.timers = make(map[string]*countdown)
	c.mu.Unlock()

	for _, cd := range timers {
		cd.cancel()
	}
}
