package compose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	corecompose "github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
)

func manyPorts(n int) []corecompose.Service {
	var ps []ports.Port
	for i := 0; i < n; i++ {
		ps = append(ps, ports.Port{Container: 1000 + i, Proto: ports.ProtocolTCP})
	}
	return []corecompose.Service{{Name: "big", Ports: ps}}
}

func TestResolveHostPorts_BoundedConcurrency(t *testing.T) {
	exec := &fakeExec{delay: 5 * time.Millisecond}

	resolved, err := ResolveHostPorts(t.Context(), exec, manyPorts(30), 0)

	require.NoError(t, err)
	assert.LessOrEqual(t, exec.maxSeen.Load(), int32(DefaultConcurrency))
	assert.Len(t, resolved[0].Ports, 30)
	for _, p := range resolved[0].Ports {
		assert.Equal(t, p.Container+40000, p.Host)
	}
}

func TestResolveHostPorts_CustomLimit(t *testing.T) {
	exec := &fakeExec{delay: 2 * time.Millisecond}

	_, err := ResolveHostPorts(t.Context(), exec, manyPorts(10), 2)

	require.NoError(t, err)
	assert.LessOrEqual(t, exec.maxSeen.Load(), int32(2))
}

func TestResolveHostPorts_KeepsKnownContainerID(t *testing.T) {
	exec := &fakeExec{}
	services := []corecompose.Service{{Name: "db", ContainerID: "known"}, {Name: "web"}}

	resolved, err := ResolveHostPorts(t.Context(), exec, services, 0)

	require.NoError(t, err)
	assert.Equal(t, "known", resolved[0].ContainerID)
	assert.Equal(t, "id-web", resolved[1].ContainerID)
	assert.Equal(t, []string{"id:web"}, exec.Calls())
	assert.Empty(t, services[1].ContainerID, "input must not change")
}

func TestResolveHostPorts_ServiceWithoutContainer(t *testing.T) {
	t.Run("without ports it is skipped", func(t *testing.T) {
		exec := &fakeExec{noContainer: map[string]bool{"migrate": true}}
		services := []corecompose.Service{
			{Name: "migrate"},
			{Name: "web", Ports: []ports.Port{{Container: 80, Proto: ports.ProtocolTCP}}},
		}

		resolved, err := ResolveHostPorts(t.Context(), exec, services, 0)

		require.NoError(t, err)
		assert.Empty(t, resolved[0].ContainerID)
		assert.Equal(t, "id-web", resolved[1].ContainerID)
		assert.Equal(t, 40080, resolved[1].Ports[0].Host)
	})

	t.Run("with ports it fails", func(t *testing.T) {
		exec := &fakeExec{noContainer: map[string]bool{"web": true}}
		services := []corecompose.Service{{Name: "web", Ports: []ports.Port{{Container: 80, Proto: ports.ProtocolTCP}}}}

		_, err := ResolveHostPorts(t.Context(), exec, services, 0)

		assert.ErrorIs(t, err, ErrNoContainer)
	})
}

func TestResolveHostPorts_KeepsParsedHostIPWhenLookupHasNone(t *testing.T) {
	exec := &fakeExec{lookup: func(service string, port int, proto ports.Protocol) HostPort {
		return HostPort{Service: service, Container: port, Proto: proto, Host: 8080}
	}}
	services := []corecompose.Service{{Name: "web", Ports: []ports.Port{{Container: 80, HostIP: "127.0.0.1", Proto: ports.ProtocolTCP}}}}

	resolved, err := ResolveHostPorts(t.Context(), exec, services, 0)

	require.NoError(t, err)
	assert.Equal(t, ports.Port{Container: 80, Host: 8080, HostIP: "127.0.0.1", Proto: ports.ProtocolTCP}, resolved[0].Ports[0])
}

func TestResolveHostPorts_LookupError(t *testing.T) {
	exec := &fakeExec{portErr: NewComposeError("HostPort", "web", "not published", ErrPortNotPublished)}

	_, err := ResolveHostPorts(t.Context(), exec, manyPorts(3), 0)

	assert.ErrorIs(t, err, ErrPortNotPublished)
}

func TestResolveHostPorts_InternalErrorOnMismatch(t *testing.T) {
	tests := []struct {
		name   string
		lookup func(service string, port int, proto ports.Protocol) HostPort
	}{
		{"unknown service", func(service string, port int, proto ports.Protocol) HostPort {
			return HostPort{Service: "ghost", Container: port, Proto: proto, Host: 1}
		}},
		{"unknown port", func(service string, port int, proto ports.Protocol) HostPort {
			return HostPort{Service: service, Container: port + 1, Proto: proto, Host: 1}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExec{lookup: tt.lookup}

			_, err := ResolveHostPorts(t.Context(), exec, manyPorts(1), 0)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInternal)
		})
	}
}
