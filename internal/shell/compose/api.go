package compose

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/compose-spec/compose-go/v2/loader"

	corecompose "github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
	"github.com/grantila/compd/internal/shell/docker"
)

// APIExec is a CLIExec that looks up containers and published ports through
// the Docker Engine API instead of spawning `docker compose` per lookup.
type APIExec struct {
	*CLIExec
	client docker.Client

	mu      sync.Mutex
	project string
}

// NewAPIExec wraps cli with Docker API lookups.
func NewAPIExec(cli *CLIExec, client docker.Client) *APIExec {
	return &APIExec{CLIExec: cli, client: client}
}

// LoadFile loads the document and remembers the project name it declares.
func (a *APIExec) LoadFile(ctx context.Context) (corecompose.Document, error) {
	doc, err := a.CLIExec.LoadFile(ctx)
	if err != nil {
		return doc, err
	}
	a.mu.Lock()
	a.project = ProjectName(a.File(), doc.Name, a.config.LookupEnv)
	a.mu.Unlock()
	return doc, nil
}

// ContainerID finds the service container by its compose labels.
func (a *APIExec) ContainerID(ctx context.Context, service string) (string, error) {
	id, err := docker.ComposeContainerID(ctx, a.client, a.projectName(), service)
	if errors.Is(err, docker.ErrContainerNotFound) {
		return "", NewComposeError("ContainerID", service, err.Error(), errors.Join(ErrNoContainer, err))
	}
	if err != nil {
		return "", NewComposeError("ContainerID", service, err.Error(), err)
	}
	return id, nil
}

// HostPort inspects the service container for the binding of containerPort.
func (a *APIExec) HostPort(ctx context.Context, service string, containerPort int, proto ports.Protocol) (HostPort, error) {
	if proto == "" {
		proto = ports.ProtocolTCP
	}

	id, err := a.ContainerID(ctx, service)
	if err != nil {
		return HostPort{}, err
	}

	binding, err := docker.PublishedPort(ctx, a.client, id, containerPort, string(proto))
	if err != nil {
		return HostPort{}, NewComposeError("HostPort", service, err.Error(), ErrPortNotPublished)
	}

	return HostPort{
		Service:   service,
		Container: containerPort,
		Proto:     proto,
		HostIP:    binding.HostIP,
		Host:      binding.HostPort,
	}, nil
}

func (a *APIExec) projectName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.project == "" {
		a.project = ProjectName(a.File(), "", a.config.LookupEnv)
	}
	return a.project
}

// ProjectName returns the compose project name: COMPOSE_PROJECT_NAME, then
// the name declared in the file, then the directory of the file.
func ProjectName(file, declared string, lookupEnv func(string) (string, bool)) string {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	if v, ok := lookupEnv("COMPOSE_PROJECT_NAME"); ok && v != "" {
		return loader.NormalizeProjectName(v)
	}
	if declared != "" {
		return loader.NormalizeProjectName(declared)
	}
	return loader.NormalizeProjectName(filepath.Base(filepath.Dir(file)))
}
