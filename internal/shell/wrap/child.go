package wrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
)

// ErrCannotStart is returned when the command could not be started.
var ErrCannotStart = errors.New("cannot start command")

// runChild runs the command with the port variables added to the process
// environment and the standard streams of req. Signals received while the
// child runs are forwarded to it.
func runChild(req Request, vars []string, logger *slog.Logger) (int, error) {
	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	cmd.Env = append(os.Environ(), vars...)
	cmd.Stdin = req.Stdin
	cmd.Stdout = req.Stdout
	cmd.Stderr = req.Stderr

	logger.Debug("running command", "command", cmd.String())
	if err := cmd.Start(); err != nil {
		return ExitCannotStart, fmt.Errorf("%w: %v", ErrCannotStart, err)
	}

	stop := forwardSignals(cmd.Process, logger)
	err := cmd.Wait()
	stop()

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return ExitCannotStart, fmt.Errorf("%w: %v", ErrCannotStart, err)
		}
	}

	code := exitCode(cmd.ProcessState)
	logger.Debug("command exited", "exit_code", code)
	return code, nil
}

// exitCode maps a child killed by a signal to 128+signal, like a shell.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}

type signaler interface {
	Signal(sig os.Signal) error
}

// forwardSignals relays catchable signals to target until the returned
// stop function is called.
func forwardSignals(target signaler, logger *slog.Logger) (stop func()) {
	ch := make(chan os.Signal, 8)
	done := make(chan struct{})
	signal.Notify(ch, forwardedSignals...)

	go func() {
		defer close(done)
		for sig := range ch {
			logger.Debug("forwarding signal", "signal", sig.String())
			if err := target.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Warn("cannot forward signal", "signal", sig.String(), "error", err)
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(ch)
		<-done
	}
}
