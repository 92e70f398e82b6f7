// Package clock holds the non-blocking time helpers used by tasks and the bus.
//
// All timestamps come from time.Now, which carries a monotonic reading, so
// comparisons are immune to wall-clock adjustments.
package clock

import "time"

// Now returns the current monotonic timestamp.
func Now() time.Time {
	return time.Now()
}

// Stamp remembers the last time an event was observed.
// Pass Time() to Bus.HasNew to detect values newer than the last observation.
type Stamp struct {
	t time.Time
}

// NewStamp returns a Stamp set to now.
func NewStamp() Stamp {
	return Stamp{t: Now()}
}

// Touch brings the stamp up to the current time.
func (s *Stamp) Touch() {
	s.t = Now()
}

// Time returns the recorded timestamp.
func (s *Stamp) Time() time.Time {
	return s.t
}

// Timeout is a non-blocking delay. Reset starts it; TimedOut reports
// expiry exactly once per Reset.
type Timeout struct {
	enabled bool
	start   time.Time
	dur     time.Duration
}

// NewTimeout constructs a Timeout with the given duration.
// When enabled is true the timeout starts counting immediately.
func NewTimeout(d time.Duration, enabled bool) *Timeout {
	t := &Timeout{dur: d}
	if enabled {
		t.Reset()
	}
	return t
}

// Reset starts the timeout from now.
func (t *Timeout) Reset() {
	t.start = Now()
	t.enabled = true
}

// ResetTo changes the duration and starts the timeout from now.
func (t *Timeout) ResetTo(d time.Duration) {
	t.dur = d
	t.Reset()
}

// Disable stops the timeout without firing.
func (t *Timeout) Disable() {
	t.enabled = false
}

// Enabled reports whether the timeout is armed.
func (t *Timeout) Enabled() bool {
	return t.enabled
}

// Duration returns the configured duration.
func (t *Timeout) Duration() time.Duration {
	return t.dur
}

// TimedOut returns true the first time it is called after the duration has
// elapsed, then disarms itself.
func (t *Timeout) TimedOut() bool {
	if t.enabled && Now().Sub(t.start) > t.dur {
		t.enabled = false
		return true
	}
	return false
}
