// internal/apperr/errors.go
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Typed errors shared by every engine. Callers classify failures with errors.As
// instead of matching on message text.

// ValidationError rejects input before it is used. Nothing is partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports that a locator matched nothing or a requested record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %q", e.Kind, e.ID)
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError reports a collision: an element owned by another extension, a duplicate entry.
type ConflictError struct {
	Subject string
	Reason  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Subject, e.Reason)
}

// NewConflictError creates a new ConflictError.
func NewConflictError(subject, reason string) *ConflictError {
	return &ConflictError{Subject: subject, Reason: reason}
}

// TimeoutError reports that an operation exceeded its time or work budget.
type TimeoutError struct {
	Op     string
	Budget time.Duration
	// Limit is set when an element-count cap, not the clock, ended the operation.
	Limit int
	Err   error
}

func (e *TimeoutError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("%s aborted after examining %d elements", e.Op, e.Limit)
	}
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Budget)
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *TimeoutError) Unwrap() error { return e.Err }

// StorageError wraps a failed read or write of a persisted collection.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError creates a new StorageError.
func NewStorageError(op, key string, err error) *StorageError {
	return &StorageError{Op: op, Key: key, Err: err}
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConflict reports whether err is, or wraps, a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsStorage reports whether err is, or wraps, a StorageError.
func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}
