// Package compose drives a compose stack: it brings it up, resolves the
// published ports of its services and tears it down.
package compose

import (
	"context"

	corecompose "github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
)

// HostPort is the published side of one container port.
type HostPort struct {
	Service   string
	Container int
	Proto     ports.Protocol
	HostIP    string
	Host      int
}

// RunRequest runs a command inside the container of a service.
type RunRequest struct {
	Service string
	Command []string
	Env     map[string]string
}

// RunResult is the captured output of a RunRequest.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec performs the compose operations of one compose file.
type Exec interface {
	// File is the absolute path of the compose file.
	File() string

	LoadFile(ctx context.Context) (corecompose.Document, error)
	BringUp(ctx context.Context) error
	Teardown(ctx context.Context) error

	ContainerID(ctx context.Context, service string) (string, error)
	HostPort(ctx context.Context, service string, containerPort int, proto ports.Protocol) (HostPort, error)

	// Run executes a command in a running service container. A non-zero exit
	// status is an error; the result still carries the captured output.
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}
