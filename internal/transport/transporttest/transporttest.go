// Package transporttest provides a scriptable Transport for engine tests.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/crucial707/chaos-scheduler/internal/transport"
)

// Call is one recorded Run invocation.
type Call struct {
	TargetID int
	Action   models.Action
	Start    time.Time
	End      time.Time
}

// Stub is a transport.Factory whose transports delegate to hooks.
// Zero value succeeds every action and reports targets online.
type Stub struct {
	// RunFunc handles Run; nil returns success.
	RunFunc func(ctx context.Context, t *models.Target, action models.Action) (string, error)
	// ProbeFunc handles Probe; nil returns online.
	ProbeFunc func(ctx context.Context, t *models.Target) (models.TargetStatus, error)
	// ForErr, when set, is returned by For.
	ForErr error
	// Inventory is what Containers reports for any runtime host.
	Inventory []transport.ContainerInfo
	// InventoryErr, when set, is returned by Containers.
	InventoryErr error

	mu    sync.Mutex
	calls []Call
}

func (s *Stub) For(_ context.Context, t *models.Target) (transport.Transport, error) {
	if s.ForErr != nil {
		return nil, s.ForErr
	}
	cp := *t
	return &stubTransport{stub: s, target: &cp}, nil
}

// Containers makes Stub a transport.Discoverer.
func (s *Stub) Containers(context.Context, *models.ContainerConn) ([]transport.ContainerInfo, error) {
	if s.InventoryErr != nil {
		return nil, s.InventoryErr
	}
	return append([]transport.ContainerInfo(nil), s.Inventory...), nil
}

// Calls returns the recorded Run calls in completion order.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

type stubTransport struct {
	stub   *Stub
	target *models.Target
}

func (t *stubTransport) Run(ctx context.Context, action models.Action) (string, error) {
	start := time.Now()
	var (
		detail = "ok"
		err    error
	)
	if t.stub.RunFunc != nil {
		detail, err = t.stub.RunFunc(ctx, t.target, action)
	}
	t.stub.mu.Lock()
	t.stub.calls = append(t.stub.calls, Call{TargetID: t.target.ID, Action: action, Start: start, End: time.Now()})
	t.stub.mu.Unlock()
	return detail, err
}

func (t *stubTransport) Probe(ctx context.Context) (models.TargetStatus, error) {
	if t.stub.ProbeFunc != nil {
		return t.stub.ProbeFunc(ctx, t.target)
	}
	return models.StatusOnline, nil
}

func (t *stubTransport) Close() error { return nil }
