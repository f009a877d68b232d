package docker

import (
	"context"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerStatus represents the state of a container.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// PortBinding is one published container port.
type PortBinding struct {
	ContainerPort int
	HostPort      int
	Protocol      string // "tcp" or "udp"
	HostIP        string
}

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	Status    ContainerStatus
	CreatedAt time.Time
	Ports     []PortBinding
	Labels    map[string]string
}

// ListOptions filters container listings.
type ListOptions struct {
	All bool
	// Labels are matched as "key=value" label filters.
	Labels map[string]string
}

// =============================================================================
// Client Interface
// =============================================================================

// Client is the part of the Docker Engine API used to look up compose
// containers and their published ports.
type Client interface {
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)

	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Label Constants
// =============================================================================

// Labels set by docker compose on the containers it creates.
const (
	LabelProject = "com.docker.compose.project"
	LabelService = "com.docker.compose.service"
	LabelNumber  = "com.docker.compose.container-number"
	LabelOneoff  = "com.docker.compose.oneoff"
)
