// Package syncstate implements differential sync: the host remembers a hash
// of the last payload it sent each device for each payload kind, and skips
// transmission when the state has not changed since. Companion phones and
// tablets are bandwidth and battery constrained, so unchanged snapshots are
// never re-sent.
//
// This is best-effort deduplication, not an integrity check; a hash
// collision would suppress one push until the next state change, an
// accepted negligible risk.
package syncstate

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// PayloadKind names one class of pushed state. Hashes are tracked per
// (device, kind) pair so a shopping-list push never masks a meal-plan push.
type PayloadKind string

const (
	KindShoppingList PayloadKind = "shopping_list"
	KindMealPlan     PayloadKind = "meal_plan"
	KindRecipe       PayloadKind = "recipe"
)

// deviceState holds the last-sent hashes for one device.
type deviceState struct {
	hashes       map[PayloadKind]string
	lastSyncTime time.Time
}

// Tracker records the last-sent payload hash per device and kind.
// Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	devices map[string]*deviceState

	// timeNow returns the current time. Useful for testing.
	timeNow func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		devices: make(map[string]*deviceState),
		timeNow: time.Now,
	}
}

// NewWithClock creates a tracker with an injected clock for tests.
func NewWithClock(now func() time.Time) *Tracker {
	t := New()
	t.timeNow = now
	return t
}

// ShouldSend reports whether the serialized payload differs from what was
// last sent to the device for this kind. When it returns true it records
// the new hash and refreshes the device's last sync time as a side effect,
// so the caller must actually transmit (or at least enqueue) the payload.
func (t *Tracker) ShouldSend(deviceID string, kind PayloadKind, payload []byte) bool {
	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])

	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.devices[deviceID]
	if !ok {
		d = &deviceState{hashes: make(map[PayloadKind]string)}
		t.devices[deviceID] = d
	}

	if d.hashes[kind] == hash {
		return false
	}

	d.hashes[kind] = hash
	d.lastSyncTime = t.timeNow()
	return true
}

// LastSync returns when a payload was last recorded for the device.
// The second return is false if nothing has ever been sent.
func (t *Tracker) LastSync(deviceID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d, ok := t.devices[deviceID]
	if !ok {
		return time.Time{}, false
	}
	return d.lastSyncTime, true
}

// Forget drops all sync state for a device. Called on disconnect; a
// reconnecting device receives full state on its first push.
func (t *Tracker) Forget(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.devices, deviceID)
}
