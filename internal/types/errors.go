package types

import (
	"errors"
	"fmt"
)

// ValidationError reports caller input that was rejected before any store
// mutation took place.
type ValidationError struct {
	Field  string
	Reason string
	// Err optionally names a sentinel the caller can match with errors.Is.
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid is shorthand for building a ValidationError.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err (or anything it wraps) is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
