package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks malformed or out-of-range request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks a reference to a step that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvariant marks a request that would break a machine invariant,
	// such as branching while branching is disabled.
	ErrInvariant = errors.New("invariant violation")

	// ErrStorage marks a failure of the session store.
	ErrStorage = errors.New("storage failure")
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ProcessingError is the uniform machine-level error. It carries the phase
// marker and a snapshot of the state at failure time.
type ProcessingError struct {
	Op    string
	Phase Phase
	State ProcessingState
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s failed in %s phase: %v", e.Op, e.Phase, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
