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

const postgresProbeValue = "4711"

// Postgres waits until psql inside the service container can run a query
// with the credentials from the service environment.
type Postgres struct {
	runner Runner
	opts   readiness.RetryOptions
	logger *slog.Logger
}

// NewPostgres creates the postgres detector.
func NewPostgres(runner Runner, opts readiness.RetryOptions, logger *slog.Logger) *Postgres {
	return &Postgres{
		runner: runner,
		opts:   withDefaults(opts, DefaultPostgresDelay),
		logger: componentLogger(logger, "postgres"),
	}
}

func (d *Postgres) Name() string { return "postgres" }

// Matches claims a single-port postgres image, or the 5432 or 5433 port.
func (d *Postgres) Matches(svc corecompose.Service) readiness.MatchResult {
	return matchByImage(svc, "postgre", 5432, 5433)
}

func (d *Postgres) WaitFor(ctx context.Context, svc corecompose.Service) error {
	req := postgresRequest(svc)

	var last string
	ok := retry.Until(ctx, d.opts.Clock, d.opts.Delay, d.opts.Time, func(ctx context.Context) bool {
		res, err := d.runner.Run(ctx, req)
		if err == nil && strings.Contains(res.Stdout, postgresProbeValue) {
			return true
		}
		last = diagnostic(res.Stderr, err)
		d.logger.Debug("postgres not ready", "service", svc.Name, "output", last)
		return false
	})
	if ok {
		return nil
	}

	e := readiness.NewRetryLimitError(d.Name(), svc.Name, "postgres did not answer a query")
	e.Output = last
	return e
}

// postgresRequest builds the psql probe. The user defaults to postgres and
// the database to the user, as in the official image.
func postgresRequest(svc corecompose.Service) compose.RunRequest {
	user := svc.Env("POSTGRES_USER", "postgres")
	db := svc.Env("POSTGRES_DB", user)

	req := compose.RunRequest{
		Service: svc.Name,
		Command: []string{"psql", "-U", user, "-d", db, "-c", "select " + postgresProbeValue},
	}
	if password := svc.Env("POSTGRES_PASSWORD", ""); password != "" {
		req.Env = map[string]string{"PGPASSWORD": password}
	}
	return req
}
