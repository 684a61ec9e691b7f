package repositories

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies store failures independently of the backing technology.
type ErrorCategory string

const (
	CategoryUnknown     ErrorCategory = "unknown"
	CategoryNotFound    ErrorCategory = "not_found"
	CategoryConflict    ErrorCategory = "conflict"
	CategoryUnavailable ErrorCategory = "unavailable"
)

// StoreError is a RepositoryError usable by any store implementation.
type StoreError struct {
	Op       string
	Category ErrorCategory
	Message  string
	Err      error
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	message := e.Message
	if message == "" {
		message = string(e.Category)
	}
	if e.Err != nil {
		message = fmt.Sprintf("%s: %v", message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, message)
	}
	return message
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool { return e != nil && e.Category == CategoryNotFound }
func (e *StoreError) IsConflict() bool { return e != nil && e.Category == CategoryConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Category == CategoryUnavailable }

// NewNotFoundError reports a missing entity.
func NewNotFoundError(op, message string) *StoreError {
	return &StoreError{Op: op, Category: CategoryNotFound, Message: message}
}

// NewConflictError reports a write rejected because of the current state.
func NewConflictError(op, message string) *StoreError {
	return &StoreError{Op: op, Category: CategoryConflict, Message: message}
}

// NewUnavailableError reports a transient backend failure.
func NewUnavailableError(op string, err error) *StoreError {
	return &StoreError{Op: op, Category: CategoryUnavailable, Message: "store unavailable", Err: err}
}

// IsNotFound reports whether err carries the not-found category.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries the conflict category.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
