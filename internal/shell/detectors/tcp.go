package detectors

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	corecompose "github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/dockerhost"
	"github.com/grantila/compd/internal/core/ports"
	"github.com/grantila/compd/internal/core/readiness"
	"github.com/grantila/compd/internal/core/retry"
)

// TCP waits until every TCP port of a service accepts connections.
// It only asserts reachability, so its matches are never final.
type TCP struct {
	opts   readiness.RetryOptions
	dialer Dialer
	logger *slog.Logger
}

// NewTCP creates the tcp detector.
func NewTCP(opts readiness.RetryOptions, dialer Dialer, logger *slog.Logger) *TCP {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: time.Second}
	}
	return &TCP{
		opts:   withDefaults(opts, DefaultTCPDelay),
		dialer: dialer,
		logger: componentLogger(logger, "tcp"),
	}
}

func (d *TCP) Name() string { return "tcp" }

// Matches claims every tcp port.
func (d *TCP) Matches(svc corecompose.Service) readiness.MatchResult {
	var out []ports.Port
	for _, p := range svc.Ports {
		if p.Proto == ports.ProtocolTCP {
			out = append(out, p)
		}
	}
	return readiness.MatchResult{Ports: out, Final: false}
}

// WaitFor probes all ports concurrently, each with its own retry budget.
func (d *TCP) WaitFor(ctx context.Context, svc corecompose.Service) error {
	host := svc.DockerHost
	if host == "" {
		host = dockerhost.Fallback
	}

	var g errgroup.Group
	for _, p := range svc.Ports {
		if !p.Resolved() {
			return fmt.Errorf("%s: %s of %s: %w", d.Name(), p, svc.Name, ErrUnresolvedPort)
		}
	}
	for _, p := range svc.Ports {
		g.Go(func() error {
			return d.waitForPort(ctx, svc.Name, host, p.Host)
		})
	}
	return g.Wait()
}

func (d *TCP) waitForPort(ctx context.Context, service, host string, port int) error {
	address := net.JoinHostPort(host, strconv.Itoa(port))

	var last error
	ok := retry.Until(ctx, d.opts.Clock, d.opts.Delay, d.opts.Time, func(ctx context.Context) bool {
		conn, err := d.dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			last = err
			return false
		}
		conn.Close()
		return true
	})
	if ok {
		d.logger.Debug("port open", "service", service, "address", address)
		return nil
	}

	e := readiness.NewRetryLimitError(d.Name(), service, fmt.Sprintf("Port %d is not open", port))
	if last != nil {
		e.Output = last.Error()
	}
	return e
}
