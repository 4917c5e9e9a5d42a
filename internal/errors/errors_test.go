package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

// TestCodedErrorFormat verifies the error string includes code and message.
func TestCodedErrorFormat(t *testing.T) {
	err := New(CodeAuthRequired, "device is not paired")
	want := "auth.required: device is not paired"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

// TestCodedErrorWithCause verifies the cause is included and unwrappable.
func TestCodedErrorWithCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(CodeDataUnavailable, "shopping list fetch failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if err.Error() != "data.unavailable: shopping list fetch failed (connection refused)" {
		t.Errorf("unexpected error string: %q", err.Error())
	}
}

// TestGetCode verifies code extraction from plain and coded errors.
func TestGetCode(t *testing.T) {
	if got := GetCode(nil); got != "" {
		t.Errorf("GetCode(nil) = %q, want empty", got)
	}
	if got := GetCode(stderrors.New("boom")); got != CodeUnknown {
		t.Errorf("GetCode(plain) = %q, want %q", got, CodeUnknown)
	}
	if got := GetCode(InvalidCode()); got != CodeAuthInvalidCode {
		t.Errorf("GetCode(coded) = %q, want %q", got, CodeAuthInvalidCode)
	}

	// Codes survive wrapping with fmt.Errorf %w.
	wrapped := fmt.Errorf("handler: %w", AuthRequired())
	if got := GetCode(wrapped); got != CodeAuthRequired {
		t.Errorf("GetCode(wrapped) = %q, want %q", got, CodeAuthRequired)
	}
}

// TestToCodeAndMessage verifies the wire-frame conversion helper.
func TestToCodeAndMessage(t *testing.T) {
	code, msg := ToCodeAndMessage(NotFound("recipe r-42"))
	if code != CodeDataNotFound {
		t.Errorf("code = %q, want %q", code, CodeDataNotFound)
	}
	if msg != "recipe r-42 not found" {
		t.Errorf("message = %q", msg)
	}

	code, msg = ToCodeAndMessage(stderrors.New("boom"))
	if code != CodeUnknown || msg != "boom" {
		t.Errorf("plain error gave (%q, %q)", code, msg)
	}
}

// TestIsCode verifies code matching.
func TestIsCode(t *testing.T) {
	if !IsCode(AuthRequired(), CodeAuthRequired) {
		t.Error("IsCode should match auth.required")
	}
	if IsCode(AuthRequired(), CodeRateLimited) {
		t.Error("IsCode should not match a different code")
	}
}
