// Package ratelimit bounds inbound messages per device per fixed time window.
//
// The limiter is a fixed-window counter, not a token bucket: the first
// message after a window elapses starts a fresh window with count 1, and
// messages are denied once the count inside the current window exceeds the
// ceiling. Denials are silent drops at the protocol layer - the caller logs
// them but never tears a connection down over flooding alone.
package ratelimit

import (
	"sync"
	"time"
)

// window tracks one device's message count inside the current fixed window.
type window struct {
	count int
	start time.Time
}

// Limiter is a per-device fixed-window message counter.
// Safe for concurrent use.
type Limiter struct {
	mu sync.Mutex

	// ceiling is the maximum number of allowed messages per window.
	ceiling int

	// duration is the fixed window length.
	duration time.Duration

	// windows maps deviceID to its current window.
	windows map[string]*window

	// timeNow returns the current time. Useful for testing.
	timeNow func() time.Time
}

// New creates a limiter allowing up to ceiling messages per duration.
func New(ceiling int, duration time.Duration) *Limiter {
	return &Limiter{
		ceiling:  ceiling,
		duration: duration,
		windows:  make(map[string]*window),
		timeNow:  time.Now,
	}
}

// NewWithClock creates a limiter with an injected clock for tests.
func NewWithClock(ceiling int, duration time.Duration, now func() time.Time) *Limiter {
	l := New(ceiling, duration)
	l.timeNow = now
	return l
}

// Allow consumes one message slot for the device and reports whether the
// message should be processed. A fresh or elapsed window resets the count
// to 1 and allows; otherwise the count increments and the message is
// allowed while the count stays at or under the ceiling.
func (l *Limiter) Allow(deviceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()

	w, ok := l.windows[deviceID]
	if !ok || now.Sub(w.start) >= l.duration {
		l.windows[deviceID] = &window{count: 1, start: now}
		return true
	}

	w.count++
	return w.count <= l.ceiling
}

// Forget drops the window for a device. Called on disconnect so the map
// does not accumulate entries for devices that are gone.
func (l *Limiter) Forget(deviceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, deviceID)
}
