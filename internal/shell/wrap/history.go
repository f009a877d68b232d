package wrap

import (
	"context"
	"log/slog"
	"time"

	"github.com/grantila/compd/internal/core/readiness"
	"github.com/grantila/compd/internal/shell/store"
)

// recorder writes a run and its checks to the history store. History is
// best effort: failures are logged and never change the outcome of a run.
type recorder struct {
	store  store.Store
	run    *store.Run
	logger *slog.Logger
}

func newRecorder(ctx context.Context, s store.Store, run store.Run, logger *slog.Logger) *recorder {
	rec := &recorder{logger: logger}
	if s == nil {
		return rec
	}

	run.StartedAt = time.Now()
	if err := s.CreateRun(context.WithoutCancel(ctx), &run); err != nil {
		logger.Warn("cannot record run", "error", err)
		return rec
	}

	rec.store = s
	rec.run = &run
	return rec
}

func (r *recorder) checks(ctx context.Context, reports []readiness.Report) {
	if r.store == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	err := r.store.WithTx(ctx, func(tx store.Store) error {
		for _, report := range reports {
			for _, c := range report.Checks {
				check := &store.Check{
					RunID:    r.run.ID,
					Service:  report.Service,
					Detector: c.Detector,
					Ports:    c.Ports,
					Final:    c.Final,
					Duration: c.Duration,
				}
				if c.Err != nil {
					check.Error = c.Err.Error()
					if out := readiness.Diagnostic(c.Err); out != "" {
						check.Error += "\n" + out
					}
				}
				if err := tx.AddCheck(ctx, check); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("cannot record readiness checks", "error", err)
	}
}

func (r *recorder) finish(ctx context.Context, code int, runErr error) {
	if r.store == nil {
		return
	}

	var msg string
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := r.store.FinishRun(context.WithoutCancel(ctx), r.run.ID, time.Now(), code, msg); err != nil {
		r.logger.Warn("cannot record run result", "error", err)
	}
}
