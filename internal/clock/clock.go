// Package clock supplies the time source injected into every expiry-dependent operation.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. Implementations must be non-decreasing.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// System reads the wall clock, truncated to whole seconds.
func System() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Monotonic wraps a clock so that it never goes backwards: a reading earlier
// than the last one returned is replaced by the last one.
type Monotonic struct {
	mu     sync.Mutex
	source Clock
	last   time.Time
}

func NewMonotonic(source Clock) *Monotonic {
	return &Monotonic{source: source}
}

func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.source.Now()
	if now.Before(m.last) {
		return m.last
	}
	m.last = now
	return now
}

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// At returns a manual clock positioned at the given unix second.
func At(unixSeconds int64) *Manual {
	return NewManual(time.Unix(unixSeconds, 0).UTC())
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward; negative durations are ignored.
func (m *Manual) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t unless that would move it backwards.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	if t.After(m.now) {
		m.now = t
	}
	m.mu.Unlock()
}
