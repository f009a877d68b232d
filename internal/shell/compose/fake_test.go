package compose

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	corecompose "github.com/grantila/compd/internal/core/compose"
	"github.com/grantila/compd/internal/core/ports"
)

// fakeExec is an in-memory Exec. Host ports are container port + 40000.
type fakeExec struct {
	doc      corecompose.Document
	loadErr  error
	upErr    error
	portErr  error
	lookup   func(service string, port int, proto ports.Protocol) HostPort
	delay    time.Duration
	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	// noContainer lists services without a running container.
	noContainer map[string]bool
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

func (f *fakeExec) File() string { return "/work/compose.yaml" }

func (f *fakeExec) LoadFile(ctx context.Context) (corecompose.Document, error) {
	f.record("load")
	return f.doc, f.loadErr
}

func (f *fakeExec) BringUp(ctx context.Context) error {
	f.record("up")
	return f.upErr
}

func (f *fakeExec) Teardown(ctx context.Context) error {
	f.record("down")
	return nil
}

func (f *fakeExec) ContainerID(ctx context.Context, service string) (string, error) {
	f.record("id:" + service)
	if f.noContainer[service] {
		return "", NewComposeError("ContainerID", service, "no running container", ErrNoContainer)
	}
	return "id-" + service, nil
}

func (f *fakeExec) HostPort(ctx context.Context, service string, port int, proto ports.Protocol) (HostPort, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.record(fmt.Sprintf("port:%s:%d/%s", service, port, proto))
	if f.portErr != nil {
		return HostPort{}, f.portErr
	}
	if f.lookup != nil {
		return f.lookup(service, port, proto), nil
	}
	return HostPort{Service: service, Container: port, Proto: proto, HostIP: "0.0.0.0", Host: port + 40000}, nil
}

func (f *fakeExec) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	f.record("run:" + req.Service)
	return RunResult{}, nil
}
