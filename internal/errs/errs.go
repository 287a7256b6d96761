// Package errs holds the error taxonomy shared by the upload engine.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors, checked with errors.Is.
var (
	// ErrCancelled marks an operation settled by cancellation.
	ErrCancelled = errors.New("request has been cancelled")

	// ErrUseAfterDestroy is returned by any operation on a destroyed instance.
	ErrUseAfterDestroy = errors.New("use after destroy")

	// ErrCacheInvalid marks a cached upload record that cannot be imported.
	ErrCacheInvalid = errors.New("cached upload record is invalid")

	// ErrTokenInvalid is returned when a token getter yields an unusable result.
	ErrTokenInvalid = errors.New("token is invalid")
)

// ValidationError reports a bad argument. It is always returned by the call
// that received the argument, before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid argument: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validation creates a ValidationError for field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ApplicationError is a response outside [200,400), or a response body that
// could not be decoded. Body carries the raw response.
type ApplicationError struct {
	Status int
	Body   []byte
	Err    error
}

func (e *ApplicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, string(e.Body))
}

// Unwrap returns the decode error, if any.
func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNetwork reports whether err is, or wraps, a NetworkError.
func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// IsApplication reports whether err is, or wraps, an ApplicationError.
func IsApplication(err error) bool {
	var target *ApplicationError
	return errors.As(err, &target)
}
