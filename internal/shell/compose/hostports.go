package compose

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	corecompose "github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
)

// DefaultConcurrency bounds concurrent host port lookups.
const DefaultConcurrency = 8

type portKey struct {
	service string
	ports.Key
}

// ResolveHostPorts returns copies of services with container IDs and the
// published side of every port filled in. Container IDs are resolved
// concurrently; port lookups run at most limit at a time. A service without
// ports may have no running container, such as a finished one-off job.
func ResolveHostPorts(ctx context.Context, exec Exec, services []corecompose.Service, limit int) ([]corecompose.Service, error) {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	resolved := make([]corecompose.Service, len(services))
	for i, svc := range services {
		resolved[i] = svc.Clone()
	}

	var ids errgroup.Group
	for i := range resolved {
		if resolved[i].ContainerID != "" {
			continue
		}
		ids.Go(func() error {
			id, err := exec.ContainerID(ctx, resolved[i].Name)
			if errors.Is(err, ErrNoContainer) && len(resolved[i].Ports) == 0 {
				return nil
			}
			if err != nil {
				return err
			}
			resolved[i].ContainerID = id
			return nil
		})
	}
	if err := ids.Wait(); err != nil {
		return nil, err
	}

	var keys []portKey
	for _, svc := range resolved {
		for _, p := range svc.Ports {
			keys = append(keys, portKey{service: svc.Name, Key: p.Key()})
		}
	}

	results := make([]HostPort, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, k := range keys {
		g.Go(func() error {
			hp, err := exec.HostPort(gctx, k.service, k.Container, k.Proto)
			if err != nil {
				return err
			}
			results[i] = hp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := mergeHostPorts(resolved, keys, results); err != nil {
		return nil, err
	}
	return resolved, nil
}

// mergeHostPorts writes each lookup result into the port it was requested
// for. A result without a matching service or port is a bug.
func mergeHostPorts(services []corecompose.Service, keys []portKey, results []HostPort) error {
	byName := make(map[string]int, len(services))
	for i, svc := range services {
		byName[svc.Name] = i
	}

	for i, hp := range results {
		k := keys[i]
		if hp.Service == "" {
			hp.Service = k.service
		}
		if hp.Proto == "" {
			hp.Proto = k.Proto
		}

		si, ok := byName[hp.Service]
		if !ok {
			return NewComposeError("ResolveHostPorts", hp.Service, "cannot find service", ErrInternal)
		}

		svc := &services[si]
		want := ports.Key{Container: hp.Container, Proto: hp.Proto}
		pi := -1
		for j, p := range svc.Ports {
			if p.Key() == want {
				pi = j
				break
			}
		}
		if pi < 0 {
			return NewComposeError("ResolveHostPorts", hp.Service,
				fmt.Sprintf("cannot find port %d/%s", hp.Container, hp.Proto), ErrInternal)
		}

		svc.Ports[pi].Host = hp.Host
		if hp.HostIP != "" {
			svc.Ports[pi].HostIP = hp.HostIP
		}
	}
	return nil
}
