package store

import (
	"context"
	"time"
)

// =============================================================================
// Entities
// =============================================================================

// Run is one wrapped command execution.
type Run struct {
	ID          string
	ComposeFile string
	Command     string
	DockerHost  string
	StartedAt   time.Time
	FinishedAt  *time.Time
	// ExitCode is nil while the run is in progress.
	ExitCode *int
	Error    string

	// Checks is only populated by GetRun.
	Checks []Check
}

// Check is one detector execution recorded for a run.
type Check struct {
	ID       int64
	RunID    string
	Service  string
	Detector string
	Ports    []int
	Final    bool
	Duration time.Duration
	Error    string
}

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for run history.
type Store interface {
	// CreateRun inserts run. An empty ID is replaced by a new UUID.
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, finishedAt time.Time, exitCode int, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]Run, error)

	AddCheck(ctx context.Context, check *Check) error

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  20,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
