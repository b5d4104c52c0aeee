package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
	owner   *Fake
}

// NewFake returns a fake clock set to now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc registers fn to run when the clock is advanced past now+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Stopper {
	f.mu.Lock()
	t := &fakeTimer{at: f.now.Add(d), fn: fn, owner: f}
	due := d <= 0
	if !due {
		f.pending = append(f.pending, t)
	}
	f.mu.Unlock()

	if due {
		go fn()
	}
	return t
}

// Advance moves the clock forward and runs every callback that became due,
// in deadline order, on the calling goroutine.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	var due, rest []*fakeTimer
	for _, t := range f.pending {
		if !t.stopped && !t.at.After(f.now) {
			due = append(due, t)
		} else if !t.stopped {
			rest = append(rest, t)
		}
	}
	f.pending = rest
	f.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

// Set jumps the clock to an absolute instant without firing callbacks.
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Pending returns the number of scheduled, unstopped callbacks.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}
