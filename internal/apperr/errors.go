// Package apperr defines the error taxonomy shared by the memory service.
//
// Callers classify errors with errors.Is against the sentinel values, or
// errors.As against *ProviderError when the upstream status is needed.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the four error classes.
var (
	// ErrValidation indicates malformed caller input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration indicates a missing or invalid provider binding or credential.
	ErrConfiguration = errors.New("configuration error")

	// ErrProvider indicates an upstream model endpoint failure.
	ErrProvider = errors.New("provider error")

	// ErrStorage indicates a persistence failure.
	ErrStorage = errors.New("storage error")
)

// Validation returns an error wrapping ErrValidation with a caller-facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Configuration returns an error wrapping ErrConfiguration.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// StorageError wraps a persistence failure with the operation that failed.
// Err is kept for server-side logging; Error() omits it so file paths never
// reach a response body.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s failed", e.Op)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// Storage wraps err as a *StorageError. Returns nil for a nil err.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// ProviderError carries the upstream status and message of a failed model call.
type ProviderError struct {
	Provider  string // profile name
	Operation string // "complete" or "embed"
	Status    int    // HTTP status, 0 when no response was received
	Message   string
	Timeout   bool
	Err       error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("provider %s: %s timed out", e.Provider, e.Operation)
	case e.Status != 0:
		return fmt.Sprintf("provider %s: %s failed (status %d): %s", e.Provider, e.Operation, e.Status, e.Message)
	default:
		return fmt.Sprintf("provider %s: %s failed: %s", e.Provider, e.Operation, e.Message)
	}
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProvider}
	}
	return []error{ErrProvider, e.Err}
}

// Retryable reports whether a single retry could plausibly succeed:
// timeouts, transport failures, rate limiting and 5xx responses.
func (e *ProviderError) Retryable() bool {
	if e.Timeout || e.Status == 0 {
		return true
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsRetryable reports whether err is a retryable *ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// HTTPStatus maps an error to the status code returned to callers.
func HTTPStatus(err error) int {
	if errors.Is(err, ErrValidation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Detail returns the caller-facing message for err. Storage and provider
// failures are reduced to a fixed form; their causes only go to the log.
func Detail(err error) string {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Error()
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.detail()
	}
	return err.Error()
}

// detail renders e without the upstream message, which can carry endpoint
// URLs and dial addresses.
func (e *ProviderError) detail() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("provider %s: %s timed out", e.Provider, e.Operation)
	case errors.Is(e.Err, context.Canceled):
		return fmt.Sprintf("provider %s: %s canceled", e.Provider, e.Operation)
	case e.Status != 0:
		return fmt.Sprintf("provider %s: %s failed (status %d)", e.Provider, e.Operation, e.Status)
	default:
		return fmt.Sprintf("provider %s: %s failed", e.Provider, e.Operation)
	}
}
