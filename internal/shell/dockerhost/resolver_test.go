package dockerhost

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coredockerhost "github.com/grantila/compd/internal/core/dockerhost"
	"github.com/grantila/compd/internal/shell/command"
)

// =============================================================================
// Test Helpers
// =============================================================================

const ipRouteOutput = "default via 172.17.0.1 dev eth0\n172.17.0.0/16 dev eth0 proto kernel scope link src 172.17.0.2\n"

const routeTableOutput = `Kernel IP routing table
Destination     Gateway         Genmask         Flags Metric Ref    Use Iface
0.0.0.0         172.17.0.2      0.0.0.0         UG    0      0        0 eth0
`

// fakeRunner answers by program path.
type fakeRunner struct {
	outputs map[string]string
	errors  map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, cmd command.Command) (command.Result, error) {
	if err, ok := f.errors[cmd.Path]; ok {
		return command.Result{}, err
	}
	out, ok := f.outputs[cmd.Path]
	if !ok {
		return command.Result{}, fmt.Errorf("unexpected command %s", cmd)
	}
	return command.Result{Stdout: out}, nil
}

func env(vars map[string]string) Option {
	return WithLookupEnv(func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	})
}

func newTestResolver(runner command.Runner, vars map[string]string) (*Resolver, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return NewResolver(runner, logger, env(vars)), &buf
}

// =============================================================================
// Resolve Tests
// =============================================================================

func TestResolve_Env(t *testing.T) {
	tests := []struct {
		name    string
		setting string
		vars    map[string]string
		want    string
	}{
		{"default plain", "", map[string]string{"DOCKER_HOST": "4.5.6.7"}, "4.5.6.7"},
		{"default url", "env", map[string]string{"DOCKER_HOST": "tcp://9.8.7.6:1234"}, "9.8.7.6"},
		{"named", "env:MY_DOCKER", map[string]string{"MY_DOCKER": "10.1.1.1"}, "10.1.1.1"},
		{"unix socket falls back", "env", map[string]string{"DOCKER_HOST": "unix:///var/run/docker.sock"}, coredockerhost.Fallback},
		{"missing falls back", "", nil, coredockerhost.Fallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestResolver(&fakeRunner{}, tt.vars)

			got, err := r.Resolve(t.Context(), tt.setting, false)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_EnvDiagnostics(t *testing.T) {
	t.Run("missing variable always logged", func(t *testing.T) {
		r, logs := newTestResolver(&fakeRunner{}, nil)
		_, _ = r.Resolve(t.Context(), "", false)
		assert.Contains(t, logs.String(), "DOCKER_HOST")
	})

	t.Run("wrong scheme quiet unless verbose", func(t *testing.T) {
		vars := map[string]string{"DOCKER_HOST": "unix:///var/run/docker.sock"}

		r, logs := newTestResolver(&fakeRunner{}, vars)
		_, _ = r.Resolve(t.Context(), "", false)
		assert.Empty(t, logs.String())

		r, logs = newTestResolver(&fakeRunner{}, vars)
		_, _ = r.Resolve(t.Context(), "", true)
		assert.Contains(t, logs.String(), "tcp protocol")
	})

	t.Run("named variable always verbose", func(t *testing.T) {
		r, logs := newTestResolver(&fakeRunner{}, map[string]string{"X": "ssh://host"})
		_, _ = r.Resolve(t.Context(), "env:X", false)
		assert.Contains(t, logs.String(), "tcp protocol")
	})
}

func TestResolve_HostAndNo(t *testing.T) {
	r, _ := newTestResolver(&fakeRunner{}, nil)

	got, err := r.Resolve(t.Context(), "host:docker.internal", false)
	require.NoError(t, err)
	assert.Equal(t, "docker.internal", got)

	got, err = r.Resolve(t.Context(), "no", false)
	require.NoError(t, err)
	assert.Equal(t, coredockerhost.Fallback, got)
}

func TestResolve_Invalid(t *testing.T) {
	r, _ := newTestResolver(&fakeRunner{}, nil)

	_, err := r.Resolve(t.Context(), "bogus", false)

	assert.ErrorIs(t, err, coredockerhost.ErrInvalidSetting)
}

// =============================================================================
// Route Strategy Tests
// =============================================================================

func TestResolve_RoutePrefersIPRoute(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"/sbin/ip": ipRouteOutput,
		"route":    routeTableOutput,
	}}
	r, _ := newTestResolver(runner, nil)

	got, err := r.Resolve(t.Context(), "route", false)

	require.NoError(t, err)
	assert.Equal(t, "172.17.0.1", got)
}

func TestResolve_RouteFallsBackToRouteTable(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"route": routeTableOutput},
		errors:  map[string]error{"/sbin/ip": command.ErrNotFound},
	}
	r, _ := newTestResolver(runner, nil)

	got, err := r.Resolve(t.Context(), "route", false)

	require.NoError(t, err)
	assert.Equal(t, "172.17.0.2", got)
}

func TestResolve_RouteIPRouteAloneIsEnough(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"/sbin/ip": ipRouteOutput},
		errors:  map[string]error{"route": command.ErrNotFound},
	}
	r, logs := newTestResolver(runner, nil)

	got, err := r.Resolve(t.Context(), "route", false)

	require.NoError(t, err)
	assert.Equal(t, "172.17.0.1", got)
	assert.NotContains(t, logs.String(), "level=WARN")
}

func TestResolve_RouteBothFail(t *testing.T) {
	runner := &fakeRunner{
		outputs: map[string]string{"/sbin/ip": "nothing useful\n"},
		errors: map[string]error{"route": &command.CommandError{
			Command: "route -n",
			Stderr:  "route: command not found",
			Err:     command.ErrNotFound,
		}},
	}
	r, logs := newTestResolver(runner, nil)

	got, err := r.Resolve(t.Context(), "route", false)

	require.NoError(t, err)
	assert.Equal(t, coredockerhost.Fallback, got)
	assert.Contains(t, logs.String(), "both ways of detecting docker host failed")
	assert.Contains(t, logs.String(), "doesn't contain default route")
	assert.Contains(t, logs.String(), "route: command not found")
}
