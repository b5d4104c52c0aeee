// Package clock provides the wall-clock countdown primitives used for assessment,
// section and question deadlines.
//
// Remaining time is always recomputed from the start instant, the duration and
// the current time, never from a decrementing counter, so a reload or a process
// restart recovers the correct value.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by timers and the session machine.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Stopper
}

// Stopper cancels a scheduled callback.
type Stopper interface {
	Stop() bool
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, fn func()) Stopper { return time.AfterFunc(d, fn) }

// Timer is a single countdown with one-shot, idempotent expiry.
type Timer struct {
	name     string
	start    time.Time
	duration time.Duration
	clk      Clock

	mu      sync.Mutex
	fired   bool
	stopper Stopper
	onFire  func(name string)
}

// NewTimer creates a timer that expires at start+duration.
func NewTimer(clk Clock, name string, start time.Time, duration time.Duration) *Timer {
	return &Timer{name: name, start: start, duration: duration, clk: clk}
}

// NewDeadlineTimer creates a timer that expires at the given instant.
func NewDeadlineTimer(clk Clock, name string, deadline time.Time) *Timer {
	now := clk.Now()
	return &Timer{name: name, start: now, duration: deadline.Sub(now), clk: clk}
}

// Name returns the timer name.
func (t *Timer) Name() string { return t.name }

// Deadline returns the expiry instant.
func (t *Timer) Deadline() time.Time { return t.start.Add(t.duration) }

// Remaining returns the time left, floored at zero.
func (t *Timer) Remaining() time.Duration {
	left := t.Deadline().Sub(t.clk.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Elapsed returns the time since start, capped at the duration.
func (t *Timer) Elapsed() time.Duration {
	e := t.clk.Now().Sub(t.start)
	if e < 0 {
		return 0
	}
	if e > t.duration {
		return t.duration
	}
	return e
}

// Expired reports whether the deadline has passed.
func (t *Timer) Expired() bool {
	return !t.clk.Now().Before(t.Deadline())
}

// Arm schedules fn to run once at expiry. A timer already past its deadline
// fires on the next scheduler tick. Re-arming replaces the callback.
func (t *Timer) Arm(fn func(name string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return
	}
	if t.stopper != nil {
		t.stopper.Stop()
	}
	t.onFire = fn
	t.stopper = t.clk.AfterFunc(t.Remaining(), func() { t.Fire() })
}

// Fire runs the expiry callback. Only the first call has any effect.
func (t *Timer) Fire() bool {
	t.mu.Lock()
	if t.fired {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	fn := t.onFire
	if t.stopper != nil {
		t.stopper.Stop()
		t.stopper = nil
	}
	t.mu.Unlock()

	if fn != nil {
		fn(t.name)
	}
	return true
}

// Fired reports whether expiry has already been delivered.
func (t *Timer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Stop disarms the timer without firing it.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopper != nil {
		t.stopper.Stop()
		t.stopper = nil
	}
	t.onFire = nil
}
