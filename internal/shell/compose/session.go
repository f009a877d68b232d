package compose

import (
	"context"
	"log/slog"
	"sync"

	corecompose "github.com/grantila/compd/internal/core/compose"
)

// SessionConfig configures a compose session.
type SessionConfig struct {
	// Concurrency bounds concurrent host port lookups.
	// Default: 8.
	Concurrency int
}

// Session owns the service model of one compose file for one run.
type Session struct {
	exec   Exec
	config SessionConfig
	logger *slog.Logger

	mu       sync.RWMutex
	services []corecompose.Service
	ready    bool
	started  bool
}

// NewSession creates a session over exec.
func NewSession(exec Exec, config SessionConfig, logger *slog.Logger) *Session {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		exec:   exec,
		config: config,
		logger: logger.With("component", "compose", "file", exec.File()),
	}
}

// File returns the compose file of the session.
func (s *Session) File() string {
	return s.exec.File()
}

// Setup parses the compose file, brings the stack up and resolves the
// published ports of every service. The file is parsed first so that an
// invalid port specification fails before any container is started.
func (s *Session) Setup(ctx context.Context, dockerHost string) ([]corecompose.Service, error) {
	doc, err := s.exec.LoadFile(ctx)
	if err != nil {
		return nil, err
	}

	parsed, err := corecompose.ParseDocument(s.exec.File(), doc, dockerHost)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("parsed compose file", "services", len(parsed))

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.logger.Info("bringing up compose stack")
	if err := s.exec.BringUp(ctx); err != nil {
		return nil, err
	}

	resolved, err := ResolveHostPorts(ctx, s.exec, parsed, s.config.Concurrency)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.services = resolved
	s.ready = true
	s.mu.Unlock()

	return cloneAll(resolved), nil
}

// Started reports whether Setup got as far as bringing the stack up. A
// started stack needs a teardown even when Setup failed.
func (s *Session) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Services returns the resolved services.
func (s *Session) Services() ([]corecompose.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return nil, NewComposeError("Services", "", "setup has not completed", ErrNotSetUp)
	}
	return cloneAll(s.services), nil
}

// Environment returns the port variables of the resolved services.
func (s *Session) Environment() (map[string]string, error) {
	services, err := s.Services()
	if err != nil {
		return nil, err
	}
	return corecompose.PortEnvironment(services), nil
}

// Teardown takes the stack down.
func (s *Session) Teardown(ctx context.Context) error {
	s.logger.Info("tearing down compose stack")
	return s.exec.Teardown(ctx)
}

func cloneAll(services []corecompose.Service) []corecompose.Service {
	out := make([]corecompose.Service, len(services))
	for i, svc := range services {
		out[i] = svc.Clone()
	}
	return out
}
