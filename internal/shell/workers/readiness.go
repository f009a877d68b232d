// Package workers runs the readiness pass over a compose stack.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
	"github.com/grantila/compd/internal/core/readiness"
	"github.com/grantila/compd/internal/core/retry"
)

// ReadinessConfig configures the readiness worker.
type ReadinessConfig struct {
	// Clock times each detector run.
	// Default: the system clock.
	Clock retry.Clock
}

// Readiness waits for every service of a stack to become usable, using an
// ordered list of detectors.
type Readiness struct {
	detectors []readiness.Detector
	config    ReadinessConfig
	logger    *slog.Logger
}

// NewReadiness creates a readiness worker. The order of detectors is their
// precedence: generic detectors go first, specific ones after.
func NewReadiness(detectors []readiness.Detector, config ReadinessConfig, logger *slog.Logger) *Readiness {
	if config.Clock == nil {
		config.Clock = retry.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Readiness{
		detectors: detectors,
		config:    config,
		logger:    logger.With("component", "readiness"),
	}
}

// WaitForService runs the detector chain of one service. Matched detectors
// run sequentially in match order; the first failure stops the chain.
// Services no detector understands are skipped without error.
func (r *Readiness) WaitForService(ctx context.Context, svc compose.Service) (readiness.Report, error) {
	report := readiness.Report{Service: svc.Name}
	log := r.logger.With("service", svc.Name)

	matches := readiness.FindMatches(r.detectors, svc)
	if len(matches) == 0 {
		log.Info("service not understood, cannot properly await it")
		report.Status = readiness.StatusSkipped
		return report, nil
	}

	report.Status = readiness.StatusReady
	if !readiness.Understood(matches) {
		log.Warn("service not fully understood, awaiting what was recognized",
			"detectors", detectorNames(matches),
		)
		report.Status = readiness.StatusPartial
	}

	for _, m := range matches {
		hostPorts := ports.HostPorts(m.Ports)
		log.Debug("running detector",
			"detector", m.Detector.Name(),
			"ports", hostPorts,
		)

		started := r.config.Clock.Now()
		err := m.Detector.WaitFor(ctx, svc.WithPorts(m.Ports))

		report.Checks = append(report.Checks, readiness.Check{
			Detector: m.Detector.Name(),
			Ports:    hostPorts,
			Final:    m.Final,
			Started:  started,
			Duration: r.config.Clock.Now().Sub(started),
			Err:      err,
		})

		if err != nil {
			report.Status = readiness.StatusFailed
			log.Error("service not ready", "detector", m.Detector.Name(), "error", err)
			if out := readiness.Diagnostic(err); out != "" {
				log.Debug("last diagnostic output", "detector", m.Detector.Name(), "output", out)
			}
			return report, &readiness.ServiceError{Service: svc.Name, Err: err}
		}
	}

	log.Info("service ready", "status", report.Status)
	return report, nil
}

// WaitForServices waits for all services concurrently. A failing service does
// not cancel the others; every service runs to completion and the failures
// are joined into one error. Reports keep the order of services.
func (r *Readiness) WaitForServices(ctx context.Context, services []compose.Service) ([]readiness.Report, error) {
	reports := make([]readiness.Report, len(services))
	errs := make([]error, len(services))

	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = r.WaitForService(ctx, svc)
		}()
	}
	wg.Wait()

	return reports, errors.Join(errs...)
}

func detectorNames(matches []readiness.Match) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Detector.Name())
	}
	return out
}
