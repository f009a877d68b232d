// Package wrap runs a command inside the lifecycle of a compose stack:
// bring the stack up, wait until its services are usable, run the command
// and tear the stack down again.
package wrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/grantila/compd/internal/core/readiness"
	"github.com/grantila/compd/internal/core/retry"
	"github.com/grantila/compd/internal/shell/compose"
	"github.com/grantila/compd/internal/shell/store"
	"github.com/grantila/compd/internal/shell/workers"
)

// Exit codes of a wrapped run that did not get as far as the command.
const (
	ExitSetupFailed = 1
	ExitCannotStart = 127
)

// ErrNoCommand is returned when the request has no command to run.
var ErrNoCommand = errors.New("no command given")

// HostResolver resolves the docker host setting.
type HostResolver interface {
	Resolve(ctx context.Context, setting string, verbose bool) (string, error)
}

// Request is one wrapped command.
type Request struct {
	// Command is the program and its arguments.
	Command []string

	// File is the compose file. Relative paths are resolved against Dir;
	// empty selects a standard compose file name in Dir.
	File string
	// Dir defaults to the working directory.
	Dir string

	// DockerHost is the docker host setting, such as "env" or "host:10.0.0.2".
	DockerHost string
	Verbose    bool

	// Wait is slept after readiness and before the command starts.
	Wait time.Duration
	// Teardown takes the stack down after the command.
	Teardown bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Config holds the collaborators of a Wrapper.
type Config struct {
	Resolver HostResolver

	// NewExec creates the compose executor of a compose file.
	NewExec func(file string) compose.Exec

	// Detectors builds the detector registry for an executor.
	Detectors func(exec compose.Exec) []readiness.Detector

	// Concurrency bounds concurrent host port lookups.
	Concurrency int

	// History records runs when set.
	History store.Store

	// Clock is used for the post-readiness wait.
	// Default: the system clock.
	Clock retry.Clock
}

// Wrapper runs wrapped commands.
type Wrapper struct {
	config Config
	logger *slog.Logger
}

// New creates a Wrapper.
func New(config Config, logger *slog.Logger) *Wrapper {
	if config.Clock == nil {
		config.Clock = retry.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Wrapper{
		config: config,
		logger: logger.With("component", "wrap"),
	}
}

// Wrap runs req and returns the exit code for the process: the exit code of
// the command, ExitCannotStart when it could not be started, or
// ExitSetupFailed when the stack could not be brought up or did not become
// ready. A stack that was brought up is torn down on every path unless
// req.Teardown is false.
func (w *Wrapper) Wrap(ctx context.Context, req Request) (code int, err error) {
	if len(req.Command) == 0 {
		return ExitSetupFailed, ErrNoCommand
	}

	dir := req.Dir
	if dir == "" {
		if dir, err = os.Getwd(); err != nil {
			return ExitSetupFailed, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	file, err := compose.ResolveFile(dir, req.File)
	if err != nil {
		return ExitSetupFailed, err
	}

	host, err := w.config.Resolver.Resolve(ctx, req.DockerHost, req.Verbose)
	if err != nil {
		return ExitSetupFailed, err
	}

	log := w.logger.With("file", file)
	exec := w.config.NewExec(file)
	session := compose.NewSession(exec, compose.SessionConfig{Concurrency: w.config.Concurrency}, w.logger)

	rec := newRecorder(ctx, w.config.History, store.Run{
		ComposeFile: file,
		Command:     strings.Join(req.Command, " "),
		DockerHost:  host,
	}, log)
	defer func() {
		rec.finish(ctx, code, err)
	}()

	defer func() {
		if !req.Teardown || !session.Started() {
			return
		}
		if terr := session.Teardown(context.WithoutCancel(ctx)); terr != nil {
			log.Error("teardown failed", "error", terr)
		}
	}()

	services, err := session.Setup(ctx, host)
	if err != nil {
		return ExitSetupFailed, err
	}

	env, err := session.Environment()
	if err != nil {
		return ExitSetupFailed, err
	}
	vars := environ(env)
	if req.Verbose {
		log.Info("exposing environment variables", "env", vars)
	}

	r := workers.NewReadiness(w.config.Detectors(exec), workers.ReadinessConfig{}, w.logger)
	reports, err := r.WaitForServices(ctx, services)
	rec.checks(ctx, reports)
	if err != nil {
		return ExitSetupFailed, err
	}

	if req.Wait > 0 {
		log.Debug("waiting before running command", "wait", req.Wait)
		if err := w.config.Clock.Sleep(ctx, req.Wait); err != nil {
			return ExitSetupFailed, err
		}
	}

	return runChild(req, vars, log)
}

// environ renders env as sorted KEY=VALUE pairs.
func environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
