package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrContainerNotFound is returned when no running container backs a
	// compose service, or an inspected container is gone.
	ErrContainerNotFound = errors.New("container not found")

	// ErrPortNotPublished is returned when a container port has no host binding.
	ErrPortNotPublished = errors.New("port is not published")

	// ErrConnectionFailed is returned when the Docker daemon is unreachable.
	ErrConnectionFailed = errors.New("docker connection failed")
)

// DockerError carries the lookup that failed. ID holds a container ID, a
// project/service pair or a port/proto pair depending on Entity.
type DockerError struct {
	Op      string
	Entity  string // container or port
	ID      string
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
