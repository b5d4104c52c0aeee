package clock

import (
	"sync"
	"time"
)

// Set groups coexisting timers. Forcing timers are top-level deadlines whose
// earliest expiry triggers a single forced submit. Soft timers (section and
// question limits) never submit; each delivers its own expiry callback.
type Set struct {
	mu      sync.Mutex
	forcing []*Timer
	soft    map[string]*Timer
	once    sync.Once
	stopped bool
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{soft: make(map[string]*Timer)}
}

// AddForcing registers a top-level deadline.
func (s *Set) AddForcing(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forcing = append(s.forcing, t)
}

// SetSoft registers or replaces a soft timer under its name. A non-nil fn is
// armed on it and runs once at its expiry, independently of the forced-submit
// trigger. A stopped set only records the timer.
func (s *Set) SetSoft(t *Timer, fn func(name string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.soft[t.Name()]; ok {
		old.Stop()
	}
	s.soft[t.Name()] = t
	if fn != nil && !s.stopped {
		t.Arm(fn)
	}
}

// ClearSoft disarms and removes every soft timer.
func (s *Set) ClearSoft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.soft {
		t.Stop()
		delete(s.soft, name)
	}
}

// Soft returns a soft timer by name.
func (s *Set) Soft(name string) (*Timer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.soft[name]
	return t, ok
}

// Effective returns the most restrictive forcing timer, or nil when none is set.
func (s *Set) Effective() *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Timer
	for _, t := range s.forcing {
		if best == nil || t.Deadline().Before(best.Deadline()) {
			best = t
		}
	}
	return best
}

// Deadline returns the earliest forcing deadline.
func (s *Set) Deadline() (time.Time, bool) {
	t := s.Effective()
	if t == nil {
		return time.Time{}, false
	}
	return t.Deadline(), true
}

// Remaining returns time left until the earliest forcing deadline.
func (s *Set) Remaining() time.Duration {
	t := s.Effective()
	if t == nil {
		return 0
	}
	return t.Remaining()
}

// Arm schedules the forced-submit trigger on every forcing timer. Whichever
// expires first delivers fn; all later expiries are no-ops.
func (s *Set) Arm(fn func(name string)) {
	s.mu.Lock()
	timers := append([]*Timer(nil), s.forcing...)
	s.mu.Unlock()

	trigger := func(name string) {
		s.once.Do(func() {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if !stopped {
				fn(name)
			}
		})
	}
	for _, t := range timers {
		t.Arm(trigger)
	}
}

// Stop disarms every timer in the set.
func (s *Set) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, t := range s.forcing {
		t.Stop()
	}
	for _, t := range s.soft {
		t.Stop()
	}
}
