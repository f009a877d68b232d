package workers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
	"github.com/grantila/compd/internal/core/readiness"
)

// =============================================================================
// Test Helpers
// =============================================================================

// recorder collects detector runs across goroutines.
type recorder struct {
	mu   sync.Mutex
	runs []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, s)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

type fakeDetector struct {
	name  string
	final bool
	// hint restricts matching to images containing it; empty matches all tcp ports.
	hint  string
	rec   *recorder
	fail  map[string]error
	delay time.Duration
}

func (d *fakeDetector) Name() string { return d.name }

func (d *fakeDetector) Matches(svc compose.Service) readiness.MatchResult {
	if d.hint != "" && !strings.Contains(svc.Image, d.hint) {
		return readiness.MatchResult{Final: d.final}
	}
	var out []ports.Port
	for _, p := range svc.Ports {
		if p.Proto == ports.ProtocolTCP {
			out = append(out, p)
		}
	}
	return readiness.MatchResult{Ports: out, Final: d.final}
}

func (d *fakeDetector) WaitFor(ctx context.Context, svc compose.Service) error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.rec.add(svc.Name + ":" + d.name)
	return d.fail[svc.Name]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// capturingLogger records every level as text.
func capturingLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func svc(name, image string, hostPorts ...int) compose.Service {
	s := compose.Service{Name: name, Image: image}
	for _, p := range hostPorts {
		s.Ports = append(s.Ports, ports.Port{Container: p, Host: p, Proto: ports.ProtocolTCP})
	}
	return s
}

// =============================================================================
// WaitForService Tests
// =============================================================================

func TestWaitForService_RunsChainInOrder(t *testing.T) {
	rec := &recorder{}
	tcp := &fakeDetector{name: "tcp", rec: rec}
	redis := &fakeDetector{name: "redis", final: true, hint: "redis", rec: rec}
	r := NewReadiness([]readiness.Detector{tcp, redis}, ReadinessConfig{}, quietLogger())

	report, err := r.WaitForService(t.Context(), svc("cache", "redis:7", 6379))

	require.NoError(t, err)
	assert.Equal(t, []string{"cache:tcp", "cache:redis"}, rec.all())
	assert.Equal(t, readiness.StatusReady, report.Status)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, "tcp", report.Checks[0].Detector)
	assert.False(t, report.Checks[0].Final)
	assert.Equal(t, []int{6379}, report.Checks[1].Ports)
	assert.True(t, report.Checks[1].Final)
}

func TestWaitForService_Unrecognized(t *testing.T) {
	rec := &recorder{}
	redis := &fakeDetector{name: "redis", final: true, hint: "redis", rec: rec}
	r := NewReadiness([]readiness.Detector{redis}, ReadinessConfig{}, quietLogger())

	report, err := r.WaitForService(t.Context(), svc("web", "nginx", 80))

	require.NoError(t, err)
	assert.Equal(t, readiness.StatusSkipped, report.Status)
	assert.Empty(t, rec.all())
}

func TestWaitForService_PartialStillProbes(t *testing.T) {
	rec := &recorder{}
	tcp := &fakeDetector{name: "tcp", rec: rec}
	r := NewReadiness([]readiness.Detector{tcp}, ReadinessConfig{}, quietLogger())

	report, err := r.WaitForService(t.Context(), svc("web", "nginx", 80))

	require.NoError(t, err)
	assert.Equal(t, readiness.StatusPartial, report.Status)
	assert.Equal(t, []string{"web:tcp"}, rec.all())
}

// =============================================================================
// Diagnostic Level Tests
// =============================================================================

func TestWaitForService_LogLevels(t *testing.T) {
	tests := []struct {
		name     string
		final    bool
		image    string
		contains []string
		excludes []string
	}{
		{
			name:     "unrecognized service is informational",
			final:    true,
			image:    "nginx",
			contains: []string{`level=INFO msg="service not understood, cannot properly await it"`},
			excludes: []string{"level=WARN", "level=ERROR"},
		},
		{
			name:     "chain ending non-final warns",
			final:    false,
			image:    "redis:7",
			contains: []string{`level=WARN msg="service not fully understood, awaiting what was recognized"`},
			excludes: []string{"level=ERROR"},
		},
		{
			name:     "chain ending final does not warn",
			final:    true,
			image:    "redis:7",
			contains: []string{`level=INFO msg="service ready"`},
			excludes: []string{"level=WARN", "level=ERROR"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			redis := &fakeDetector{name: "redis", final: tt.final, hint: "redis", rec: rec}
			detectors := []readiness.Detector{redis}
			if tt.image != "nginx" {
				detectors = []readiness.Detector{&fakeDetector{name: "tcp", rec: rec}, redis}
			}
			logger, logs := capturingLogger()
			r := NewReadiness(detectors, ReadinessConfig{}, logger)

			_, err := r.WaitForService(t.Context(), svc("svc", tt.image, 6379))

			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, logs.String(), s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, logs.String(), s)
			}
		})
	}
}

func TestWaitForService_LogsLastDiagnosticOutput(t *testing.T) {
	failure := readiness.NewRetryLimitError("postgres", "db", "postgres did not answer a query")
	failure.Output = "FATAL: password authentication failed"
	pg := &fakeDetector{name: "postgres", final: true, rec: &recorder{}, fail: map[string]error{"db": failure}}
	logger, logs := capturingLogger()
	r := NewReadiness([]readiness.Detector{pg}, ReadinessConfig{}, logger)

	_, err := r.WaitForService(t.Context(), svc("db", "postgres:16", 5432))

	require.ErrorIs(t, err, readiness.ErrRetryLimit)
	assert.Contains(t, logs.String(), `level=ERROR msg="service not ready"`)
	assert.Contains(t, logs.String(), `level=DEBUG msg="last diagnostic output"`)
	assert.Contains(t, logs.String(), `output="FATAL: password authentication failed"`)
}

func TestWaitForService_StopsAtFirstFailure(t *testing.T) {
	rec := &recorder{}
	boom := readiness.NewRetryLimitError("tcp", "cache", "Port 6379 is not open")
	tcp := &fakeDetector{name: "tcp", rec: rec, fail: map[string]error{"cache": boom}}
	redis := &fakeDetector{name: "redis", final: true, hint: "redis", rec: rec}
	r := NewReadiness([]readiness.Detector{tcp, redis}, ReadinessConfig{}, quietLogger())

	report, err := r.WaitForService(t.Context(), svc("cache", "redis", 6379))

	require.Error(t, err)
	assert.ErrorIs(t, err, readiness.ErrRetryLimit)
	assert.Equal(t, readiness.StatusFailed, report.Status)
	assert.Equal(t, []string{"cache:tcp"}, rec.all())
	require.Len(t, report.Checks, 1)
	assert.Equal(t, boom, report.Checks[0].Err)
}

func TestWaitForService_DetectorSeesOnlyMatchedPorts(t *testing.T) {
	var seen []int
	only := &portsDetector{port: 5432, seen: &seen}
	r := NewReadiness([]readiness.Detector{only}, ReadinessConfig{}, quietLogger())

	_, err := r.WaitForService(t.Context(), svc("db", "postgres", 5432, 9187))

	require.NoError(t, err)
	assert.Equal(t, []int{5432}, seen)
}

type portsDetector struct {
	port int
	seen *[]int
}

func (d *portsDetector) Name() string { return "only" }

func (d *portsDetector) Matches(svc compose.Service) readiness.MatchResult {
	for _, p := range svc.Ports {
		if p.Container == d.port {
			return readiness.MatchResult{Ports: []ports.Port{p}, Final: true}
		}
	}
	return readiness.MatchResult{}
}

func (d *portsDetector) WaitFor(ctx context.Context, svc compose.Service) error {
	*d.seen = ports.HostPorts(svc.Ports)
	return nil
}

// =============================================================================
// WaitForServices Tests
// =============================================================================

func TestWaitForServices_FailureDoesNotCancelSiblings(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	tcp := &fakeDetector{
		name:  "tcp",
		rec:   rec,
		fail:  map[string]error{"a": readiness.NewRetryLimitError("tcp", "a", "Port 1 is not open")},
		delay: 10 * time.Millisecond,
	}
	r := NewReadiness([]readiness.Detector{tcp}, ReadinessConfig{}, quietLogger())

	services := []compose.Service{svc("a", "x", 1), svc("b", "x", 2), svc("c", "x", 3)}
	reports, err := r.WaitForServices(t.Context(), services)

	require.Error(t, err)
	assert.ElementsMatch(t, []string{"a:tcp", "b:tcp", "c:tcp"}, rec.all())

	require.Len(t, reports, 3)
	assert.Equal(t, "a", reports[0].Service)
	assert.Equal(t, readiness.StatusFailed, reports[0].Status)
	assert.Equal(t, readiness.StatusPartial, reports[1].Status)
	assert.Equal(t, readiness.StatusPartial, reports[2].Status)

	var svcErr *readiness.ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, "a", svcErr.Service)
}

func TestWaitForServices_AllReady(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	tcp := &fakeDetector{name: "tcp", final: true, rec: rec}
	r := NewReadiness([]readiness.Detector{tcp}, ReadinessConfig{}, quietLogger())

	reports, err := r.WaitForServices(t.Context(), []compose.Service{svc("a", "x", 1), svc("b", "x", 2)})

	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestWaitForServices_Empty(t *testing.T) {
	r := NewReadiness(nil, ReadinessConfig{}, nil)

	reports, err := r.WaitForServices(t.Context(), nil)

	require.NoError(t, err)
	assert.Empty(t, reports)
}
