package detectors

import (
	"context"
	"log/slog"
	"strings"

	corecompose "github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/readiness"
	"github.com/grantila/compd/internal/core/retry"
	"github.com/grantila/compd/internal/shell/compose"
)

// Redis waits until redis-cli inside the service container gets an INFO reply.
type Redis struct {
	runner Runner
	opts   readiness.RetryOptions
	logger *slog.Logger
}

// NewRedis creates the redis detector.
func NewRedis(runner Runner, opts readiness.RetryOptions, logger *slog.Logger) *Redis {
	return &Redis{
		runner: runner,
		opts:   withDefaults(opts, DefaultRedisDelay),
		logger: componentLogger(logger, "redis"),
	}
}

func (d *Redis) Name() string { return "redis" }

// Matches claims a single-port redis image, or the 6379 port.
func (d *Redis) Matches(svc corecompose.Service) readiness.MatchResult {
	return matchByImage(svc, "redis", 6379)
}

func (d *Redis) WaitFor(ctx context.Context, svc corecompose.Service) error {
	req := compose.RunRequest{
		Service: svc.Name,
		Command: []string{"redis-cli", "info"},
	}

	var last string
	ok := retry.Until(ctx, d.opts.Clock, d.opts.Delay, d.opts.Time, func(ctx context.Context) bool {
		res, err := d.runner.Run(ctx, req)
		if err == nil && strings.Contains(res.Stdout, "redis_version") {
			return true
		}
		last = diagnostic(res.Stderr, err)
		d.logger.Debug("redis not ready", "service", svc.Name, "output", last)
		return false
	})
	if ok {
		return nil
	}

	e := readiness.NewRetryLimitError(d.Name(), svc.Name, "redis did not answer INFO")
	e.Output = last
	return e
}

func diagnostic(stderr string, err error) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
