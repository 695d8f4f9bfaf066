// Package utils holds small helpers shared by the store packages: contextual
// error wrapping, pooled scratch buffers and overflow-checked size arithmetic.
package utils

import "fmt"

// StoreError attaches the failing store operation to its cause.
type StoreError struct {
	Context string
	Cause   error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// WrapError creates a contextual error. A nil cause yields nil so call sites
// can wrap unconditionally.
func WrapError(context string, cause error) error {
	if cause == nil {
		return nil
	}
	return &StoreError{
		Context: context,
		Cause:   cause,
	}
}

// WrapErrorf is WrapError with a formatted context.
func WrapErrorf(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &StoreError{
		Context: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}
