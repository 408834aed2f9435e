package domain

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is classification of the typed errors below.
var (
	ErrValidation = errors.New("validation error")
	ErrApply      = errors.New("apply error")
	ErrIO         = errors.New("io error")
)

// ValidationError rejects a malformed desired state before reconciliation.
// Never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Reason)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError is a convenience constructor.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ApplyError means the blocking engine rejected or failed a batch replace.
// The installed-rule cache is unchanged when this is returned.
type ApplyError struct {
	Op  string // "update", "remove", "add", "rollback"
	Err error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply error (%s): %v", e.Op, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

func (e *ApplyError) Is(target error) bool { return target == ErrApply }

// IOError is a persistence read/write failure.
type IOError struct {
	Op  string // "load" or "save"
	Key string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error (%s %s): %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }
