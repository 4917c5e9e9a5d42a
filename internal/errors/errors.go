// Package errors provides standardized error codes for the sync host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (auth, server, sync, data, storage)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by companion devices for
// programmatic error handling. Human-readable messages are provided
// alongside codes and carried in the "message" field of error frames.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that companion devices can rely on.
const (
	// Auth domain - pairing and trust boundary errors
	CodeAuthRequired    = "auth.required"     // Device must pair before sending this message
	CodeAuthInvalidCode = "auth.invalid_code" // Submitted pairing code does not match
	CodeAuthTimeout     = "auth.timeout"      // Pairing window expired before a valid code
	CodeAuthUnpaired    = "auth.unpaired"     // Device trust was revoked by the host
	CodeAuthThrottled   = "auth.throttled"    // Too many pairing attempts on this connection

	// Server domain - WebSocket and protocol errors
	CodeServerInvalidMessage = "server.invalid_message" // Malformed frame or bad payload
	CodeServerUnknownType    = "server.unknown_type"    // Frame type is not a known kind
	CodeServerSendFailed     = "server.send_failed"     // Failed to deliver a frame

	// Rate limit domain
	CodeRateLimited = "ratelimit.exceeded" // Device exceeded its message window

	// Sync domain - shopping list change application
	CodeSyncRejected = "sync.rejected" // Change set could not be applied

	// Data domain - external Data Service failures
	CodeDataUnavailable = "data.unavailable" // Data Service call failed
	CodeDataNotFound    = "data.not_found"   // Requested record does not exist

	// Storage domain - trusted-device registry persistence
	CodeStorageOpenFailed = "storage.open_failed" // Registry file could not be loaded
	CodeStorageSaveFailed = "storage.save_failed" // Registry rewrite failed

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "auth.required")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to error frames.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// AuthRequired creates an "auth.required" error.
// Sent to unauthenticated connections that try anything besides pairing.
func AuthRequired() *CodedError {
	return New(CodeAuthRequired, "device is not paired - submit a pairing code first")
}

// InvalidCode creates an "auth.invalid_code" error.
func InvalidCode() *CodedError {
	return New(CodeAuthInvalidCode, "pairing code does not match")
}

// InvalidMessage creates a "server.invalid_message" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeServerInvalidMessage, reason)
}

// DataUnavailable creates a "data.unavailable" error.
// This wraps Data Service failures at the handler boundary so they are
// returned to the device instead of crashing the dispatcher.
func DataUnavailable(operation string, cause error) *CodedError {
	return Wrap(CodeDataUnavailable, fmt.Sprintf("%s failed", operation), cause)
}

// NotFound creates a "data.not_found" error.
func NotFound(resource string) *CodedError {
	return New(CodeDataNotFound, fmt.Sprintf("%s not found", resource))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
