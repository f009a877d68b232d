package compose

import (
	"maps"
	"slices"

	"github.com/grantila/compd/internal/core/ports"
)

// =============================================================================
// Document - Decoded Compose File
// =============================================================================

// Document is a decoded compose file with the service order of the source.
type Document struct {
	// Name is the top-level project name, if the file sets one.
	Name     string       `json:"name,omitempty"`
	Services []RawService `json:"services"`
}

// RawService is one entry of the services mapping, after interpolation.
type RawService struct {
	Name       string         `json:"name"`
	Definition map[string]any `json:"definition"`
}

// =============================================================================
// Service - Normalized Service
// =============================================================================

// Service is the normalized view of one compose service.
// Values are snapshots: stages that fill in more detail return copies.
type Service struct {
	File          string            `json:"file"`
	Name          string            `json:"name"`
	Image         string            `json:"image,omitempty"`
	ContainerName string            `json:"container_name,omitempty"`
	ContainerID   string            `json:"container_id,omitempty"`
	DockerHost    string            `json:"docker_host"`
	Environment   map[string]string `json:"environment,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	Ports         []ports.Port      `json:"ports,omitempty"`
}

// Clone returns a deep copy of the service.
func (s Service) Clone() Service {
	s.Environment = maps.Clone(s.Environment)
	s.Labels = maps.Clone(s.Labels)
	s.Ports = slices.Clone(s.Ports)
	return s
}

// WithPorts returns a copy of the service exposing only ps.
func (s Service) WithPorts(ps []ports.Port) Service {
	c := s.Clone()
	c.Ports = slices.Clone(ps)
	return c
}

// WithoutHostPorts returns a copy without the ports published on the given host ports.
func (s Service) WithoutHostPorts(hostPorts []int) Service {
	c := s.Clone()
	c.Ports = slices.DeleteFunc(c.Ports, func(p ports.Port) bool {
		return slices.Contains(hostPorts, p.Host)
	})
	return c
}

// Env returns the value of an environment variable of the service, or def.
func (s Service) Env(key, def string) string {
	if v, ok := s.Environment[key]; ok && v != "" {
		return v
	}
	return def
}
