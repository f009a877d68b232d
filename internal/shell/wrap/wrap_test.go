//go:build unix

package wrap

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corecompose "github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
	"github.com/grantila/compd/internal/core/readiness"
	"github.com/grantila/compd/internal/shell/compose"
	"github.com/grantila/compd/internal/shell/store"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeResolver struct{ host string }

func (r fakeResolver) Resolve(ctx context.Context, setting string, verbose bool) (string, error) {
	if setting == "bad" {
		return "", errors.New("invalid docker host setting")
	}
	return r.host, nil
}

// fakeExec publishes every container port on container port + 40000.
type fakeExec struct {
	file string
	doc  corecompose.Document

	mu    sync.Mutex
	calls []string
}

func (f *fakeExec) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeExec) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExec) File() string { return f.file }

func (f *fakeExec) LoadFile(ctx context.Context) (corecompose.Document, error) {
	f.record("load")
	return f.doc, nil
}

func (f *fakeExec) BringUp(ctx context.Context) error {
	f.record("up")
	return nil
}

func (f *fakeExec) Teardown(ctx context.Context) error {
	f.record("down")
	return ctx.Err()
}

func (f *fakeExec) ContainerID(ctx context.Context, service string) (string, error) {
	return "id-" + service, nil
}

func (f *fakeExec) HostPort(ctx context.Context, service string, port int, proto ports.Protocol) (compose.HostPort, error) {
	return compose.HostPort{Service: service, Container: port, Proto: proto, Host: port + 40000}, nil
}

func (f *fakeExec) Run(ctx context.Context, req compose.RunRequest) (compose.RunResult, error) {
	return compose.RunResult{}, nil
}

// portDetector claims every port and fails for the listed services.
type portDetector struct {
	failing map[string]bool
}

func (d portDetector) Name() string { return "fake" }

func (d portDetector) Matches(svc corecompose.Service) readiness.MatchResult {
	return readiness.MatchResult{Ports: svc.Ports, Final: true}
}

func (d portDetector) WaitFor(ctx context.Context, svc corecompose.Service) error {
	if d.failing[svc.Name] {
		e := readiness.NewRetryLimitError("fake", svc.Name, "not ready")
		e.Output = "connection refused"
		return e
	}
	return nil
}

type harness struct {
	dir     string
	exec    *fakeExec
	history *store.SQLiteStore
	wrapper *Wrapper
	stdout  bytes.Buffer
}

func newHarness(t *testing.T, failing ...string) *harness {
	t.Helper()

	dir := t.TempDir()
	file := filepath.Join(dir, "compose.yaml")
	require.NoError(t, os.WriteFile(file, []byte("services: {}\n"), 0o644))

	history, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	h := &harness{
		dir: dir,
		exec: &fakeExec{file: file, doc: corecompose.Document{Services: []corecompose.RawService{
			{Name: "web", Definition: map[string]any{"image": "nginx", "ports": []any{80}}},
			{Name: "db", Definition: map[string]any{"image": "postgres", "ports": []any{"5432"}}},
		}}},
		history: history,
	}

	detector := portDetector{failing: make(map[string]bool)}
	for _, name := range failing {
		detector.failing[name] = true
	}

	h.wrapper = New(Config{
		Resolver:  fakeResolver{host: "10.0.0.2"},
		NewExec:   func(string) compose.Exec { return h.exec },
		Detectors: func(compose.Exec) []readiness.Detector { return []readiness.Detector{detector} },
		History:   history,
	}, nil)
	return h
}

func (h *harness) request(command ...string) Request {
	return Request{
		Command:  command,
		Dir:      h.dir,
		Teardown: true,
		Stdout:   &h.stdout,
		Stderr:   &h.stdout,
	}
}

func (h *harness) lastRun(t *testing.T) *store.Run {
	t.Helper()
	runs, err := h.history.ListRuns(context.Background(), store.DefaultListOptions())
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	run, err := h.history.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	return run
}

// =============================================================================
// Wrap Tests
// =============================================================================

func TestWrap_RunsCommandWithPortEnvironment(t *testing.T) {
	h := newHarness(t)

	code, err := h.wrapper.Wrap(t.Context(), h.request("sh", "-c", `echo "$WEB_HOST:$WEB_PORT $DB_PORT_5432"`))

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "10.0.0.2:40080 45432\n", h.stdout.String())
	assert.Equal(t, []string{"load", "up", "down"}, h.exec.Calls())

	run := h.lastRun(t)
	assert.Equal(t, h.exec.file, run.ComposeFile)
	assert.Equal(t, `sh -c echo "$WEB_HOST:$WEB_PORT $DB_PORT_5432"`, run.Command)
	assert.Equal(t, "10.0.0.2", run.DockerHost)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 0, *run.ExitCode)
	require.Len(t, run.Checks, 2)
	assert.ElementsMatch(t, []string{"web", "db"}, []string{run.Checks[0].Service, run.Checks[1].Service})
}

func TestWrap_PassesChildExitCode(t *testing.T) {
	h := newHarness(t)

	code, err := h.wrapper.Wrap(t.Context(), h.request("sh", "-c", "exit 3"))

	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Contains(t, h.exec.Calls(), "down")
}

func TestWrap_CommandCannotStart(t *testing.T) {
	h := newHarness(t)

	code, err := h.wrapper.Wrap(t.Context(), h.request("compd-test-no-such-program"))

	assert.ErrorIs(t, err, ErrCannotStart)
	assert.Equal(t, ExitCannotStart, code)
	assert.Contains(t, h.exec.Calls(), "down")

	run := h.lastRun(t)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, ExitCannotStart, *run.ExitCode)
	assert.NotEmpty(t, run.Error)
}

func TestWrap_ReadinessFailureSkipsCommand(t *testing.T) {
	h := newHarness(t, "db")

	code, err := h.wrapper.Wrap(t.Context(), h.request("sh", "-c", "echo ran"))

	assert.ErrorIs(t, err, readiness.ErrRetryLimit)
	assert.Equal(t, ExitSetupFailed, code)
	assert.Empty(t, h.stdout.String())
	assert.Contains(t, h.exec.Calls(), "down")

	run := h.lastRun(t)
	assert.Contains(t, run.Error, "service db")
	var failed []string
	for _, c := range run.Checks {
		if c.Error != "" {
			failed = append(failed, c.Service)
			assert.Equal(t, "fake: not ready\nconnection refused", c.Error)
		}
	}
	assert.Equal(t, []string{"db"}, failed)
}

func TestWrap_NoTeardown(t *testing.T) {
	h := newHarness(t)
	req := h.request("true")
	req.Teardown = false

	code, err := h.wrapper.Wrap(t.Context(), req)

	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.NotContains(t, h.exec.Calls(), "down")
}

func TestWrap_InvalidPortSkipsBringUp(t *testing.T) {
	h := newHarness(t)
	h.exec.doc.Services[0].Definition["ports"] = []any{"80:"}

	code, err := h.wrapper.Wrap(t.Context(), h.request("true"))

	assert.ErrorIs(t, err, ports.ErrInvalidSpecification)
	assert.Equal(t, ExitSetupFailed, code)
	assert.Equal(t, []string{"load"}, h.exec.Calls())
}

func TestWrap_TeardownSurvivesCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(t.Context())
	req := h.request("true")
	req.Wait = time.Hour
	cancel()

	code, err := h.wrapper.Wrap(ctx, req)

	assert.Equal(t, ExitSetupFailed, code)
	assert.Error(t, err)
	assert.Contains(t, h.exec.Calls(), "down")
}

func TestWrap_EarlyFailures(t *testing.T) {
	h := newHarness(t)

	t.Run("no command", func(t *testing.T) {
		code, err := h.wrapper.Wrap(t.Context(), h.request())
		assert.ErrorIs(t, err, ErrNoCommand)
		assert.Equal(t, ExitSetupFailed, code)
	})

	t.Run("missing compose file", func(t *testing.T) {
		req := h.request("true")
		req.File = "missing.yml"
		code, err := h.wrapper.Wrap(t.Context(), req)
		assert.ErrorIs(t, err, compose.ErrFileNotFound)
		assert.Equal(t, ExitSetupFailed, code)
	})

	t.Run("bad docker host", func(t *testing.T) {
		req := h.request("true")
		req.DockerHost = "bad"
		code, err := h.wrapper.Wrap(t.Context(), req)
		assert.Error(t, err)
		assert.Equal(t, ExitSetupFailed, code)
	})

	assert.Empty(t, h.exec.Calls())
}

// =============================================================================
// Child Process Tests
// =============================================================================

type recordingSignaler struct {
	mu      sync.Mutex
	signals []os.Signal
}

func (r *recordingSignaler) Signal(sig os.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	return nil
}

func (r *recordingSignaler) received() []os.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]os.Signal(nil), r.signals...)
}

func TestForwardSignals(t *testing.T) {
	target := &recordingSignaler{}
	stop := forwardSignals(target, newDiscardLogger())

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	assert.Eventually(t, func() bool {
		return len(target.received()) == 1
	}, time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, []os.Signal{syscall.SIGUSR1}, target.received())
}

func TestExitCode_Signaled(t *testing.T) {
	h := newHarness(t)

	code, err := h.wrapper.Wrap(t.Context(), h.request("sh", "-c", "kill -TERM $$"))

	require.NoError(t, err)
	assert.Equal(t, 128+int(syscall.SIGTERM), code)
}

func TestEnviron(t *testing.T) {
	assert.Equal(t,
		[]string{"A_PORT=1", "B_HOST=h"},
		environ(map[string]string{"B_HOST": "h", "A_PORT": "1"}),
	)
}
