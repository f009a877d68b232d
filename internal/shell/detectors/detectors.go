// Package detectors provides the built-in readiness detectors: a generic TCP
// reachability check and protocol checks for Redis and PostgreSQL.
package detectors

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"strings"
	"time"

	corecompose "github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
	"github.com/grantila/compd/internal/core/readiness"
	"github.com/grantila/compd/internal/shell/compose"
)

// ErrUnresolvedPort is returned when a port reaches a probe before its host
// side was resolved.
var ErrUnresolvedPort = errors.New("port has no published host port")

// Runner runs commands inside service containers.
type Runner interface {
	Run(ctx context.Context, req compose.RunRequest) (compose.RunResult, error)
}

// Dialer opens network connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config configures the built-in detectors. Zero values use the defaults.
type Config struct {
	TCP      readiness.RetryOptions
	Redis    readiness.RetryOptions
	Postgres readiness.RetryOptions

	// Dialer is used by the TCP detector.
	// Default: net.Dialer with a one second timeout.
	Dialer Dialer
}

// Default retry settings.
const (
	DefaultTCPDelay      = 100 * time.Millisecond
	DefaultRedisDelay    = 100 * time.Millisecond
	DefaultPostgresDelay = 200 * time.Millisecond
	DefaultRetryTime     = 5 * time.Second
)

// Defaults returns the built-in detectors in registration order:
// tcp, redis, postgres.
func Defaults(runner Runner, config Config, logger *slog.Logger) []readiness.Detector {
	return []readiness.Detector{
		NewTCP(config.TCP, config.Dialer, logger),
		NewRedis(runner, config.Redis, logger),
		NewPostgres(runner, config.Postgres, logger),
	}
}

func withDefaults(opts readiness.RetryOptions, delay time.Duration) readiness.RetryOptions {
	if opts.Delay <= 0 {
		opts.Delay = delay
	}
	if opts.Time <= 0 {
		opts.Time = DefaultRetryTime
	}
	return opts
}

func componentLogger(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "detector", "detector", name)
}

// matchByImage claims every port of a single-port service whose image
// contains hint, otherwise the first port on one of the well-known
// container ports.
func matchByImage(svc corecompose.Service, hint string, wellKnown ...int) readiness.MatchResult {
	if strings.Contains(strings.ToLower(svc.Image), hint) && len(svc.Ports) == 1 {
		return readiness.MatchResult{Ports: slices.Clone(svc.Ports), Final: true}
	}

	for _, p := range svc.Ports {
		if slices.Contains(wellKnown, p.Container) {
			return readiness.MatchResult{Ports: []ports.Port{p}, Final: true}
		}
	}
	return readiness.MatchResult{Final: true}
}
