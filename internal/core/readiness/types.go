// Package readiness defines readiness detectors and the chain matcher that
// decides which detectors apply to a service.
// This is part of the Functional Core - matching is pure; probing is done by
// detector implementations in the shell.
package readiness

import (
	"context"
	"time"

	"github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
	"github.com/grantila/compd/internal/core/retry"
)

// =============================================================================
// Detector
// =============================================================================

// Detector claims the ports of a service it understands and waits for them
// to become usable.
type Detector interface {
	// Name identifies the detector in logs and run history.
	Name() string

	// Matches returns the ports of svc this detector can await.
	Matches(svc compose.Service) MatchResult

	// WaitFor blocks until the ports of svc are ready or the detector's
	// retry budget is exhausted. svc only holds the matched ports.
	WaitFor(ctx context.Context, svc compose.Service) error
}

// MatchResult is the outcome of Detector.Matches.
// Final means the detector fully understands the protocol on those ports;
// non-final matches only assert generic reachability.
type MatchResult struct {
	Ports []ports.Port
	Final bool
}

// Match is a MatchResult recorded in a service's detector chain.
type Match struct {
	Detector Detector
	Ports    []ports.Port
	Final    bool
}

// RetryOptions configures the polling of one detector.
type RetryOptions struct {
	// Delay is the interval between probes.
	Delay time.Duration
	// Time is the total budget.
	Time time.Duration
	// Clock defaults to the system clock.
	Clock retry.Clock
}

// =============================================================================
// Reports
// =============================================================================

// Status is the readiness outcome of one service.
type Status string

const (
	StatusReady   Status = "ready"
	StatusPartial Status = "partial"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Check is one detector execution against a service.
type Check struct {
	Detector string
	Ports    []int
	Final    bool
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Report is the readiness outcome of one service.
type Report struct {
	Service string
	Status  Status
	Checks  []Check
}
