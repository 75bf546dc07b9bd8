// Package errors defines the error taxonomy for the licensing client.
//
// Errors fall into four classes with different handling policies:
//   - fatal/local (hardware unavailable, missing or tampered state): abort,
//     never retried, surfaced to the operator.
//   - retryable/network (server unreachable, timeout): absorbed by the
//     validation state machine up to the grace period.
//   - authoritative rejection (invalid license, unauthorized): never retried
//     automatically, requires a new key or operator action.
//   - tamper-detected: fail closed to expired, always surfaced.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the licensing lifecycle
var (
	// ErrHardwareUnavailable indicates no stable hardware attribute source
	// exists. There is no safe way to proceed without device identity.
	ErrHardwareUnavailable = errors.New("no stable hardware identifier available")

	// ErrNotFound indicates a requested local state entry or remote record
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrServerUnavailable indicates a network failure or 5xx response from
	// the license server. Retryable, tolerated up to the grace period.
	ErrServerUnavailable = errors.New("license server unavailable")

	// ErrInvalidLicense indicates the server rejected a license key.
	// Never retried automatically.
	ErrInvalidLicense = errors.New("invalid license key")

	// ErrUnauthorized indicates the server explicitly rejected the stored
	// token. Trusted over network failure: revokes immediately.
	ErrUnauthorized = errors.New("license token rejected by server")

	// ErrTamperDetected indicates local state failed an integrity check.
	ErrTamperDetected = errors.New("local state tampering detected")

	// ErrRebindTooSoon indicates a hardware rebind was attempted inside the
	// cooldown window.
	ErrRebindTooSoon = errors.New("hardware rebind rate limit exceeded")
)

// IsRetryable reports whether err is a transient network-class failure that
// the state machine may tolerate within the grace period.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServerUnavailable)
}

// IsFatal reports whether err must abort the current operation with no retry.
func IsFatal(err error) bool {
	return errors.Is(err, ErrHardwareUnavailable) ||
		errors.Is(err, ErrTamperDetected)
}

// TamperError wraps ErrTamperDetected with the reason reported to the server.
type TamperError struct {
	Reason string
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("local state tampering detected: %s", e.Reason)
}

func (e *TamperError) Unwrap() error {
	return ErrTamperDetected
}

// NewTamperError creates a tamper error with a server-reportable reason.
func NewTamperError(reason string) *TamperError {
	return &TamperError{Reason: reason}
}
