// Package apperror defines the failure categories that cross the service boundary.
// Handlers map them to HTTP status codes; everything else is an internal error.
package apperror

import (
	"errors"
	"fmt"
)

// NotFoundError reports an unknown city or a missing record.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// UpstreamError reports a failed call to the weather provider. The provider error is
// kept for logging but is not part of the message.
type UpstreamError struct {
	Message string
	Err     error
}

func (e *UpstreamError) Error() string { return e.Message }

func (e *UpstreamError) Unwrap() error { return e.Err }

// StoreError reports a record store failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NotFound returns a NotFoundError with msg.
func NotFound(msg string) error {
	return &NotFoundError{Message: msg}
}

// Upstream returns an UpstreamError wrapping err.
func Upstream(msg string, err error) error {
	return &UpstreamError{Message: msg, Err: err}
}

// Store returns a StoreError for op wrapping err.
func Store(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// Validation returns a ValidationError.
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsUpstream(err error) bool {
	var e *UpstreamError
	return errors.As(err, &e)
}

func IsStore(err error) bool {
	var e *StoreError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}
