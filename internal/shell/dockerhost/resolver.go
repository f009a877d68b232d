// Package dockerhost resolves the docker host address by reading the
// environment or the routing table.
package dockerhost

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	coredockerhost "github.com/grantila/compd/internal/core/dockerhost"
	"github.com/grantila/compd/internal/shell/command"
)

// Resolver turns a --docker-host setting into an address.
type Resolver struct {
	runner    command.Runner
	lookupEnv func(string) (string, bool)
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookupEnv = fn }
}

// NewResolver creates a resolver that runs route commands through runner.
func NewResolver(runner command.Runner, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		runner:    runner,
		lookupEnv: os.LookupEnv,
		logger:    logger.With("component", "docker_host"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the docker host for setting. It only fails for an invalid
// setting; every other problem is logged and resolves to the fallback.
func (r *Resolver) Resolve(ctx context.Context, setting string, verbose bool) (string, error) {
	s, err := coredockerhost.ParseSetting(setting, verbose)
	if err != nil {
		return "", err
	}

	switch s.Strategy {
	case coredockerhost.StrategyEnv:
		return r.fromEnv(s), nil
	case coredockerhost.StrategyRoute:
		return r.fromRouteTable(ctx), nil
	case coredockerhost.StrategyHost:
		return s.Value, nil
	default:
		return coredockerhost.Fallback, nil
	}
}

func (r *Resolver) fromEnv(s coredockerhost.Setting) string {
	value, _ := r.lookupEnv(s.Value)

	host, err := coredockerhost.FromEnvValue(s.Value, value)
	if err == nil {
		return host
	}

	if errors.Is(err, coredockerhost.ErrEnvNotFound) || s.Verbose {
		r.logger.Warn("cannot use environment variable, defaulting to "+coredockerhost.Fallback,
			"variable", s.Value,
			"error", err,
		)
	}
	return coredockerhost.Fallback
}

// fromRouteTable runs `/sbin/ip route` and `route -n` concurrently and
// prefers the former.
func (r *Resolver) fromRouteTable(ctx context.Context) string {
	var byIP, byRoute string
	var errIP, errRoute error

	var g errgroup.Group
	g.Go(func() error {
		byIP, errIP = r.parseOutput(ctx, command.Command{Path: "/sbin/ip", Args: []string{"route"}}, coredockerhost.ParseIPRoute)
		return errIP
	})
	g.Go(func() error {
		byRoute, errRoute = r.parseOutput(ctx, command.Command{Path: "route", Args: []string{"-n"}}, coredockerhost.ParseRouteTable)
		return errRoute
	})
	if err := g.Wait(); err == nil {
		return byIP
	}

	// At least one strategy failed; the other may still have an answer.
	switch {
	case errIP == nil:
		return byIP
	case errRoute == nil:
		r.logger.Debug("'/sbin/ip route' failed, using 'route -n'", "error", errIP)
		return byRoute
	}

	r.logger.Warn("both ways of detecting docker host failed, defaulting to " + coredockerhost.Fallback)
	r.logger.Warn("running '/sbin/ip route' failed:\n" + coredockerhost.Indent(diagnostic(errIP)))
	r.logger.Warn("running 'route -n' failed:\n" + coredockerhost.Indent(diagnostic(errRoute)))
	return coredockerhost.Fallback
}

func (r *Resolver) parseOutput(ctx context.Context, cmd command.Command, parse func(string) (string, error)) (string, error) {
	res, err := r.runner.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return parse(res.Stdout)
}

// diagnostic prefers the stderr of a failed command over the error text.
func diagnostic(err error) string {
	var cmdErr *command.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Stderr != "" {
		return cmdErr.Stderr
	}
	return err.Error()
}
