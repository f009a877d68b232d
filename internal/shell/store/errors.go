// Package store records the history of wrapped runs.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when a run does not exist.
	ErrNotFound = errors.New("run not found")

	// ErrDuplicateID is returned when a run ID is reused.
	ErrDuplicateID = errors.New("run with this ID already exists")

	// ErrForeignKey is returned when a check refers to an unknown run.
	ErrForeignKey = errors.New("foreign key constraint violated")

	// ErrConnectionFailed is returned when the history database cannot be opened.
	ErrConnectionFailed = errors.New("history database unavailable")

	// ErrMigrationFailed is returned when the embedded schema cannot be applied.
	ErrMigrationFailed = errors.New("history migration failed")

	// ErrInvalidData is returned when a check's port list cannot be encoded or decoded.
	ErrInvalidData = errors.New("invalid check ports")

	ErrTxFailed = errors.New("transaction failed")
)

// StoreError records which history operation failed and for which run.
type StoreError struct {
	Op      string
	Entity  string // run or check
	ID      string // run ID
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
