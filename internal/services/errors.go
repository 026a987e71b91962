// errors.go defines the error taxonomy shared by the lifecycle and query services.
// Every caller-visible failure is one of four kinds, so the HTTP layer can map
// outcomes to status codes with errors.As/errors.Is and nothing falls through
// as an undifferentiated 500.
package services

import (
	"errors"
	"fmt"
)

// ErrUserExists is the conflict signal for CreateUser: the email already has
// a record. Wrapped in a ConflictError so both errors.Is(err, ErrUserExists)
// and errors.As(&ConflictError{}) match.
var ErrUserExists = errors.New("user already exists")

// ValidationError reports a missing or unrecognised required field. The
// operation mutated nothing.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports that an identity already exists on create.
type ConflictError struct {
	Email string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user with email %s already exists", e.Email)
}

func (e *ConflictError) Unwrap() error { return ErrUserExists }

// NotFoundError reports that a mutation target is absent.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("user %s not found", e.ID)
}

// StorageError reports an underlying store or log I/O failure. Op names the
// sub-step that failed so callers can tell a failed primary mutation from a
// failed audit append after a mutation that already persisted.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
