// Package timeutil abstracts wall-clock time so tickers and deadlines can be
// driven by hand in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package used by the pipeline.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// After waits for the duration to elapse and then sends the current time.
	After(d time.Duration) <-chan time.Time
	NewTimer(d time.Duration) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer is a one-shot timer.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Ticker delivers ticks at a fixed period.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// RealClock implements Clock with the standard time package.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (RealClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time   { return r.t.C }
func (r realTicker) Stop()                 { r.t.Stop() }
func (r realTicker) Reset(d time.Duration) { r.t.Reset(d) }

// MockClock is a manually advanced clock. Timers and tickers created from it
// fire only from Advance (or MockTicker.Trigger).
type MockClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []*mockWaiter
}

// NewMockClock returns a MockClock reading t.
func NewMockClock(t time.Time) *MockClock {
	c := &MockClock{now: t}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *MockClock) After(d time.Duration) <-chan time.Time { return c.NewTimer(d).C() }

func (c *MockClock) NewTimer(d time.Duration) Timer {
	return c.register(d, 0)
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	return &MockTicker{c.register(d, d)}
}

func (c *MockClock) register(d, period time.Duration) *MockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := &mockWaiter{
		clock:  c,
		ch:     make(chan time.Time, 1),
		next:   c.now.Add(d),
		period: period,
	}
	c.waiters = append(c.waiters, w)
	c.cond.Broadcast()
	return &MockTimer{w}
}

// Advance moves the clock forward by d, firing every timer whose deadline
// has passed. A ticker fires at most once per Advance call; ticks are
// delivered without blocking, like the real ticker drops ticks for slow
// receivers.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !now.Before(w.next) {
			select {
			case w.ch <- now:
			default:
			}
			if w.period == 0 {
				w.stopped = true
				continue
			}
			w.next = now.Add(w.period)
		}
		live = append(live, w)
	}
	c.waiters = live
	c.mu.Unlock()
}

// Pending returns the number of timers and tickers still armed.
func (c *MockClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntil waits until at least n timers or tickers are armed. Tests use it
// to know a goroutine has reached its select before calling Advance.
func (c *MockClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.cond.Wait()
	}
}

func (c *MockClock) removeLocked(w *mockWaiter) {
	for i, x := range c.waiters {
		if x == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// mockWaiter is armed exactly while it is in MockClock.waiters.
type mockWaiter struct {
	clock   *MockClock
	ch      chan time.Time
	next    time.Time
	period  time.Duration
	stopped bool
}

// MockTimer is a timer created by MockClock.
type MockTimer struct {
	w *mockWaiter
}

func (t *MockTimer) C() <-chan time.Time { return t.w.ch }

// Stop disarms the timer and reports whether it was still armed.
func (t *MockTimer) Stop() bool {
	c := t.w.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	wasArmed := !t.w.stopped
	t.w.stopped = true
	c.removeLocked(t.w)
	return wasArmed
}

// Reset re-arms the timer to fire d after the mock's current time. Tickers
// keep d as their new period.
func (t *MockTimer) Reset(d time.Duration) {
	c := t.w.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.w.stopped {
		t.w.stopped = false
		c.waiters = append(c.waiters, t.w)
	}
	if t.w.period > 0 {
		t.w.period = d
	}
	t.w.next = c.now.Add(d)
	c.cond.Broadcast()
}

// Trigger delivers a tick immediately without moving the clock.
func (t *MockTimer) Trigger(now time.Time) {
	select {
	case t.w.ch <- now:
	default:
	}
}

// MockTicker is a ticker created by MockClock.
type MockTicker struct {
	*MockTimer
}

func (t *MockTicker) Stop() { t.MockTimer.Stop() }
