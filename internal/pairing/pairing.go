// Package pairing manages the rotating numeric challenge code that promotes
// an untrusted companion device to trusted.
//
// The flow works as follows:
// 1. The user runs `foodie-sync pair` (or starts the host with --pair) to
//    see the current 6-digit code.
// 2. The companion app connects and receives "pairing_required".
// 3. The app submits the code in a `pair` frame; a match upserts a trusted
//    device record and the session is authenticated.
//
// This is deliberately a convenience trust model for a home LAN, not remote
// authentication: the code is compared directly and does not hard-expire,
// it only rotates when the host generates a new one. Brute force is bounded
// by the per-connection attempt throttle and the pairing timeout enforced
// by the connection manager.
package pairing

import (
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"
)

// CodeLength is the number of digits in a pairing code.
const CodeLength = 6

// Challenge holds the process-wide pairing code and its generation time.
// It is constructed once at startup and injected into the server; there is
// no package-level state.
type Challenge struct {
	mu sync.Mutex

	// code is the current pairing code. Empty until first use.
	code string

	// generatedAt is when the current code was created.
	generatedAt time.Time

	// timeNow returns the current time. Useful for testing.
	timeNow func() time.Time
}

// New creates a pairing challenge. The first code is generated lazily on
// first use so that a host started without pairing intent never mints one.
func New() *Challenge {
	return &Challenge{timeNow: time.Now}
}

// NewWithClock creates a challenge with an injected clock for tests.
func NewWithClock(now func() time.Time) *Challenge {
	return &Challenge{timeNow: now}
}

// Code returns the current pairing code, generating one on first use.
func (c *Challenge) Code() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.code == "" {
		if err := c.rotateLocked(); err != nil {
			return "", err
		}
	}
	return c.code, nil
}

// Rotate replaces the current code with a freshly generated one and
// returns it. Any outstanding copy of the old code stops working.
func (c *Challenge) Rotate() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.rotateLocked(); err != nil {
		return "", err
	}
	return c.code, nil
}

// Verify reports whether the submitted code matches the current one.
// A challenge that has never generated a code matches nothing.
func (c *Challenge) Verify(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.code == "" {
		log.Printf("pairing: attempt with no active code")
		return false
	}
	return code == c.code
}

// GeneratedAt returns when the current code was created.
// Returns zero time if no code has been generated yet.
func (c *Challenge) GeneratedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generatedAt
}

// rotateLocked mints a new code. Must be called with mu held.
func (c *Challenge) rotateLocked() error {
	code, err := generateRandomCode(CodeLength)
	if err != nil {
		return fmt.Errorf("generate pairing code: %w", err)
	}

	c.code = code
	c.generatedAt = c.timeNow()
	log.Printf("pairing: generated new pairing code")
	return nil
}

// generateRandomCode generates a random numeric code of the given length.
// Uses crypto/rand so the code is unpredictable.
func generateRandomCode(length int) (string, error) {
	const digits = "0123456789"
	code := make([]byte, length)

	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		code[i] = digits[n.Int64()]
	}

	return string(code), nil
}
