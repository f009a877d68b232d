package readiness

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

// ErrRetryLimit is returned when a service did not become ready in time.
var ErrRetryLimit = errors.New("retry limit exceeded")

// RetryLimitError carries the detector and last diagnostic output of a
// readiness timeout.
type RetryLimitError struct {
	Detector string
	Service  string
	Message  string
	// Output is the last diagnostic output of the probe, if any.
	Output string
}

func (e *RetryLimitError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = ErrRetryLimit.Error()
	}
	if e.Detector != "" {
		return fmt.Sprintf("%s: %s", e.Detector, msg)
	}
	return msg
}

func (e *RetryLimitError) Unwrap() error {
	return ErrRetryLimit
}

// NewRetryLimitError creates a new RetryLimitError.
func NewRetryLimitError(detector, service, message string) *RetryLimitError {
	return &RetryLimitError{
		Detector: detector,
		Service:  service,
		Message:  message,
	}
}

// Diagnostic returns the last probe output carried by err, or "" when err
// holds no RetryLimitError.
func Diagnostic(err error) string {
	var rle *RetryLimitError
	if errors.As(err, &rle) {
		return rle.Output
	}
	return ""
}

// ServiceError is the readiness failure of one service.
type ServiceError struct {
	Service string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
