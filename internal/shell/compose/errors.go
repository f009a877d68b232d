package compose

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotSetUp is returned when services are queried before Setup finished.
	ErrNotSetUp = errors.New("compose stack not yet brought up")

	// ErrInternal marks a broken invariant while merging resolved ports.
	ErrInternal = errors.New("internal error")

	ErrFileNotFound     = errors.New("cannot find compose file")
	ErrPortNotPublished = errors.New("port is not published")
	ErrNoContainer      = errors.New("service has no container")
)

// ComposeError wraps errors with the compose operation and service.
type ComposeError struct {
	Op      string
	Service string
	Message string
	Err     error
}

func (e *ComposeError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Service, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ComposeError) Unwrap() error {
	return e.Err
}

// NewComposeError creates a new ComposeError.
func NewComposeError(op, service, message string, err error) *ComposeError {
	return &ComposeError{
		Op:      op,
		Service: service,
		Message: message,
		Err:     err,
	}
}
