// Package command runs external programs and captures their output.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when the program is not installed.
	ErrNotFound = errors.New("command not found")

	// ErrFailed is returned when the program exits with a non-zero status.
	ErrFailed = errors.New("command failed")
)

// Command describes one program invocation.
type Command struct {
	Path string
	Args []string
	// Env is appended to the environment of the current process.
	Env []string
	Dir string

	// Stdin, Stdout and Stderr are optional passthroughs. Output is captured
	// in the Result either way.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Started  time.Time
	Stopped  time.Time
}

// Runner runs commands to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// =============================================================================
// Error Types
// =============================================================================

// CommandError carries the command line and captured stderr of a failure.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Command, e.Err)
	if e.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ExecRunner
// =============================================================================

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner backed by os/exec.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger.With("component", "command")}
}

// Run starts cmd and waits for it. A non-zero exit status is returned as a
// *CommandError wrapping ErrFailed, together with the captured output.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdin = cmd.Stdin
	c.Stdout = tee(&stdout, cmd.Stdout)
	c.Stderr = tee(&stderr, cmd.Stderr)

	r.logger.Debug("running command", "command", cmd.String())

	res := Result{Started: time.Now()}
	err := c.Run()
	res.Stopped = time.Now()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err == nil {
		return res, nil
	}

	cmdErr := &CommandError{Command: cmd.String(), Stderr: res.Stderr, Err: err}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		cmdErr.ExitCode = res.ExitCode
		cmdErr.Err = ErrFailed
	case errors.Is(err, exec.ErrNotFound):
		cmdErr.Err = fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	return res, cmdErr
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
