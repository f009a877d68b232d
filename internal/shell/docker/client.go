// Package docker looks up compose containers and their published ports
// through the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
func NewDockerClient(host string) (*DockerClient, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", err.Error(), ErrConnectionFailed)
	}
	return &DockerClient{cli: cli}, nil
}

// Ping checks if Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Container Operations
// =============================================================================

// InspectContainer returns details and published ports of a container.
func (d *DockerClient) InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("InspectContainer", "container", containerID, err.Error(), err)
	}

	info := &ContainerInfo{
		ID:   resp.ID,
		Name: strings.TrimPrefix(resp.Name, "/"),
	}
	info.CreatedAt, _ = time.Parse(time.RFC3339Nano, resp.Created)
	if resp.State != nil {
		info.Status = ContainerStatus(resp.State.Status)
	}
	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
	}
	if resp.NetworkSettings != nil {
		info.Ports = convertPortMap(resp.NetworkSettings.Ports)
	}

	return info, nil
}

// ListContainers returns the containers matching opts.
func (d *DockerClient) ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error) {
	listOpts := container.ListOptions{All: opts.All}

	if len(opts.Labels) > 0 {
		f := filters.NewArgs()
		for k, v := range opts.Labels {
			f.Add("label", k+"="+v)
		}
		listOpts.Filters = f
	}

	containers, err := d.cli.ContainerList(ctx, listOpts)
	if err != nil {
		return nil, NewDockerError("ListContainers", "container", "", err.Error(), err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		var ports []PortBinding
		for _, p := range c.Ports {
			ports = append(ports, PortBinding{
				ContainerPort: int(p.PrivatePort),
				HostPort:      int(p.PublicPort),
				Protocol:      p.Type,
				HostIP:        p.IP,
			})
		}

		result = append(result, ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			Status:    ContainerStatus(c.State),
			CreatedAt: time.Unix(c.Created, 0),
			Ports:     ports,
			Labels:    c.Labels,
		})
	}

	return result, nil
}

// =============================================================================
// Compose Lookups
// =============================================================================

// ComposeContainerID returns the ID of the first container of a compose
// service, ordered by container number.
func ComposeContainerID(ctx context.Context, c Client, project, service string) (string, error) {
	containers, err := c.ListContainers(ctx, ListOptions{
		Labels: map[string]string{
			LabelProject: project,
			LabelService: service,
		},
	})
	if err != nil {
		return "", err
	}

	containers = filterOneoff(containers)
	if len(containers) == 0 {
		return "", NewDockerError("ComposeContainerID", "container", project+"/"+service, "no running container", ErrContainerNotFound)
	}

	sort.SliceStable(containers, func(i, j int) bool {
		return containerNumber(containers[i]) < containerNumber(containers[j])
	})
	return containers[0].ID, nil
}

// PublishedPort returns the host binding of a container port.
// IPv4 bindings are preferred over IPv6 ones.
func PublishedPort(ctx context.Context, c Client, containerID string, port int, proto string) (PortBinding, error) {
	info, err := c.InspectContainer(ctx, containerID)
	if err != nil {
		return PortBinding{}, err
	}

	binding, ok := findBinding(info.Ports, port, proto)
	if !ok {
		return PortBinding{}, NewDockerError("PublishedPort", "port", fmt.Sprintf("%d/%s", port, proto),
			"not published by container "+containerID, ErrPortNotPublished)
	}
	return binding, nil
}

// =============================================================================
// Helpers
// =============================================================================

func convertPortMap(pm nat.PortMap) []PortBinding {
	var ports []PortBinding
	for containerPort, bindings := range pm {
		port, _ := strconv.Atoi(containerPort.Port())
		for _, binding := range bindings {
			hostPort, _ := strconv.Atoi(binding.HostPort)
			ports = append(ports, PortBinding{
				ContainerPort: port,
				HostPort:      hostPort,
				Protocol:      containerPort.Proto(),
				HostIP:        binding.HostIP,
			})
		}
	}

	sort.Slice(ports, func(i, j int) bool {
		if ports[i].ContainerPort != ports[j].ContainerPort {
			return ports[i].ContainerPort < ports[j].ContainerPort
		}
		if ports[i].Protocol != ports[j].Protocol {
			return ports[i].Protocol < ports[j].Protocol
		}
		return ports[i].HostIP < ports[j].HostIP
	})
	return ports
}

func findBinding(ports []PortBinding, port int, proto string) (PortBinding, bool) {
	var fallback *PortBinding
	for i, p := range ports {
		if p.ContainerPort != port || p.Protocol != proto || p.HostPort == 0 {
			continue
		}
		if !strings.Contains(p.HostIP, ":") {
			return p, true
		}
		if fallback == nil {
			fallback = &ports[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return PortBinding{}, false
}

func filterOneoff(containers []ContainerInfo) []ContainerInfo {
	out := containers[:0]
	for _, c := range containers {
		if c.Labels[LabelOneoff] == "True" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func containerNumber(c ContainerInfo) int {
	n, err := strconv.Atoi(c.Labels[LabelNumber])
	if err != nil {
		return 0
	}
	return n
}
