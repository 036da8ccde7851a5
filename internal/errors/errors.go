// Package errors provides standardized error codes for the bridge.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (session, server, storage, auth)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by clients for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Session domain - PTY process and lifecycle errors
	CodeSessionNotFound     = "session.not_found"     // Session ID does not exist
	CodeSessionNotRunning   = "session.not_running"   // Session process not started
	CodeSessionSpawnFailed  = "session.spawn_failed"  // Failed to spawn the PTY process
	CodeSessionWriteFailed  = "session.write_failed"  // Failed to write to the PTY
	CodeSessionLimitReached = "session.limit_reached" // Registry at maximum capacity
	CodeSessionBusy         = "session.busy"          // Session already has a bound connection
	CodeSessionBadWorkdir   = "session.bad_workdir"   // Working directory missing or not a directory

	// Server domain - HTTP and WebSocket errors
	CodeServerUpgradeFailed  = "server.upgrade_failed"  // WebSocket upgrade failed
	CodeServerBadRequest     = "server.bad_request"     // Malformed HTTP request body
	CodeServerInvalidControl = "server.invalid_control" // Malformed or unknown control frame
	CodeServerSendFailed     = "server.send_failed"     // Failed to send a frame

	// Input domain - terminal input errors
	CodeInputRateLimited = "input.rate_limited" // Too many input messages per second
	CodeInputWriteFailed = "input.write_failed" // Failed to write input to the PTY

	// Auth domain - token authentication
	CodeAuthRequired = "auth.required" // Authentication required
	CodeAuthInvalid  = "auth.invalid"  // Invalid token

	// Storage domain - database errors
	CodeStorageNotFound    = "storage.not_found"    // Record not found
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "session.not_found")
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

// GetMessage extracts a human-readable message from an error.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
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

// SessionNotFound creates a "session.not_found" error.
func SessionNotFound(sessionID string) *CodedError {
	return New(CodeSessionNotFound, fmt.Sprintf("session %s not found", sessionID))
}

// SessionLimitReached creates a "session.limit_reached" error.
func SessionLimitReached(limit int) *CodedError {
	return New(CodeSessionLimitReached, fmt.Sprintf("session limit reached (%d)", limit))
}

// SessionBusy creates a "session.busy" error.
func SessionBusy(sessionID string) *CodedError {
	return New(CodeSessionBusy, fmt.Sprintf("session %s already has a connection", sessionID))
}

// BadWorkdir creates a "session.bad_workdir" error.
func BadWorkdir(dir string) *CodedError {
	return New(CodeSessionBadWorkdir, fmt.Sprintf("working directory %s does not exist or is not a directory", dir))
}

// SpawnFailed creates a "session.spawn_failed" error.
func SpawnFailed(command string, cause error) *CodedError {
	return Wrap(CodeSessionSpawnFailed, fmt.Sprintf("failed to start %s", command), cause)
}

// InvalidControl creates a "server.invalid_control" error.
func InvalidControl(reason string) *CodedError {
	return New(CodeServerInvalidControl, reason)
}

// RateLimited creates an "input.rate_limited" error.
func RateLimited() *CodedError {
	return New(CodeInputRateLimited, "input rate limit exceeded")
}

// AuthRequired creates an "auth.required" error.
func AuthRequired() *CodedError {
	return New(CodeAuthRequired, "authentication required")
}

// AuthInvalid creates an "auth.invalid" error.
func AuthInvalid() *CodedError {
	return New(CodeAuthInvalid, "invalid token")
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
