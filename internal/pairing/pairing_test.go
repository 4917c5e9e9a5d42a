package pairing

import (
	"testing"
	"time"
)

// TestCodeFormat verifies codes are 6 digits.
func TestCodeFormat(t *testing.T) {
	c := New()

	code, err := c.Code()
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}

	if len(code) != CodeLength {
		t.Errorf("expected %d-digit code, got %d digits", CodeLength, len(code))
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Errorf("expected digits only, found %c", r)
		}
	}
}

// TestCodeStableUntilRotate verifies Code returns the same value until the
// challenge is rotated.
func TestCodeStableUntilRotate(t *testing.T) {
	c := New()

	first, err := c.Code()
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	second, err := c.Code()
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	if first != second {
		t.Errorf("code changed without rotation: %s then %s", first, second)
	}
}

// TestRotateInvalidatesOldCode verifies rotation replaces the code.
func TestRotateInvalidatesOldCode(t *testing.T) {
	c := New()

	old, err := c.Code()
	if err != nil {
		t.Fatalf("Code failed: %v", err)
	}

	// With 10^6 possible codes a collision across a few rotations is
	// effectively impossible; rotate twice to be safe anyway.
	fresh, err := c.Rotate()
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if fresh == old {
		if fresh, err = c.Rotate(); err != nil {
			t.Fatalf("Rotate failed: %v", err)
		}
	}

	if c.Verify(old) && old != fresh {
		t.Error("old code still verifies after rotation")
	}
	if !c.Verify(fresh) {
		t.Error("fresh code does not verify")
	}
}

// TestVerifyWithoutCode verifies nothing matches before a code exists.
func TestVerifyWithoutCode(t *testing.T) {
	c := New()

	if c.Verify("") {
		t.Error("empty submission verified against empty challenge")
	}
	if c.Verify("123456") {
		t.Error("submission verified with no active code")
	}
}

// TestGeneratedAt verifies the generation timestamp uses the injected clock.
func TestGeneratedAt(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	c := NewWithClock(func() time.Time { return fixed })

	if !c.GeneratedAt().IsZero() {
		t.Error("GeneratedAt should be zero before first code")
	}

	if _, err := c.Code(); err != nil {
		t.Fatalf("Code failed: %v", err)
	}
	if !c.GeneratedAt().Equal(fixed) {
		t.Errorf("GeneratedAt = %v, want %v", c.GeneratedAt(), fixed)
	}
}

// TestCodeRandomness verifies rotated codes are mostly unique.
func TestCodeRandomness(t *testing.T) {
	c := New()

	codes := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := c.Rotate()
		if err != nil {
			t.Fatalf("Rotate failed: %v", err)
		}
		codes[code] = true
	}

	// Allow a few birthday collisions across 100 draws from 10^6.
	if len(codes) < 95 {
		t.Errorf("expected mostly unique codes, got %d unique out of 100", len(codes))
	}
}
