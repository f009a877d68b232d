package ports

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrInvalidSpecification is returned for malformed port entries.
	ErrInvalidSpecification = errors.New("invalid port specification")

	// ErrRangeMismatch is returned when host and container ranges differ in size.
	ErrRangeMismatch = errors.New("port range of different size")
)

// SpecError wraps a port parsing failure with the offending entry.
type SpecError struct {
	Spec    string
	Message string
	Err     error
}

func (e *SpecError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Err, e.Spec, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Spec)
}

func (e *SpecError) Unwrap() error {
	return e.Err
}

// NewSpecError creates a new SpecError.
func NewSpecError(spec, message string, err error) *SpecError {
	return &SpecError{
		Spec:    spec,
		Message: message,
		Err:     err,
	}
}
