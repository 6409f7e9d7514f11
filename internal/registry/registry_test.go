package registry

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/memstore"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/crucial707/chaos-scheduler/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, stub *transporttest.Stub) (*Registry, *memstore.Targets, *memstore.Experiments) {
	t.Helper()
	targets := memstore.NewTargets()
	exps := memstore.NewExperiments()
	r := New(targets, exps, stub, WithLogger(slog.New(slog.DiscardHandler)))
	return r, targets, exps
}

func server(name string) models.Target {
	return models.Target{
		Name:   name,
		Type:   models.TargetServer,
		Server: &models.ServerConn{Host: "10.0.0.5", Username: "ops", CredentialRef: "lab"},
	}
}

func TestRegister_ValidatesDescriptor(t *testing.T) {
	r, _, _ := newRegistry(t, &transporttest.Stub{})
	ctx := context.Background()

	cases := []struct {
		name   string
		target models.Target
		field  string
	}{
		{"missing server", models.Target{Name: "s", Type: models.TargetServer}, "server"},
		{"missing host", models.Target{Name: "s", Type: models.TargetServer, Server: &models.ServerConn{Username: "u", CredentialRef: "c"}}, "server.host"},
		{"bad auth method", models.Target{Name: "s", Type: models.TargetServer, Server: &models.ServerConn{Host: "h1", Username: "u", CredentialRef: "c", AuthMethod: "token"}}, "server.auth_method"},
		{"missing container id", models.Target{Name: "c", Type: models.TargetContainer, Container: &models.ContainerConn{Endpoint: "unix:///var/run/docker.sock"}}, "container.container_id"},
		{"tls without credential", models.Target{Name: "c", Type: models.TargetContainer, Container: &models.ContainerConn{Endpoint: "tcp://h:2376", ContainerID: "x", TLS: true}}, "container.credential_ref"},
		{"mixed descriptors", models.Target{Name: "c", Type: models.TargetContainer, Container: &models.ContainerConn{Endpoint: "e", ContainerID: "x"}, Server: &models.ServerConn{}}, "server"},
		{"unknown type", models.Target{Name: "v", Type: "vm"}, "type"},
		{"missing name", models.Target{Type: models.TargetServer, Server: &models.ServerConn{Host: "h", Username: "u", CredentialRef: "c"}}, "name"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := r.Register(ctx, c.target)
			require.True(t, errors.Is(err, chaoserr.ErrValidation), "got %v", err)
			assert.Contains(t, chaoserr.FieldsOf(err), c.field)
		})
	}
}

func TestRegister_AndResolve(t *testing.T) {
	r, _, _ := newRegistry(t, &transporttest.Stub{})
	ctx := context.Background()

	created, err := r.Register(ctx, server("web-1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnknown, created.Status)

	got, err := r.Resolve(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "web-1", got.Name)

	_, err = r.Resolve(ctx, 999)
	assert.True(t, errors.Is(err, chaoserr.ErrNotFound))
}

func TestSetStatus_Idempotent(t *testing.T) {
	r, targets, _ := newRegistry(t, &transporttest.Stub{})
	ctx := context.Background()
	created, err := r.Register(ctx, server("web-1"))
	require.NoError(t, err)

	t1 := time.Date(2026, 4, 10, 2, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	require.NoError(t, r.SetStatus(ctx, created.ID, models.StatusOnline, t1))

	before := testutilCounter(models.StatusOnline)
	require.NoError(t, r.SetStatus(ctx, created.ID, models.StatusOnline, t2))
	assert.Equal(t, before, testutilCounter(models.StatusOnline), "repeated status must not count as a transition")

	got, _ := targets.GetByID(ctx, created.ID)
	assert.Equal(t, models.StatusOnline, got.Status)
	require.NotNil(t, got.LastCheckedAt)
	assert.True(t, got.LastCheckedAt.Equal(t2))

	err = r.SetStatus(ctx, 404, models.StatusOnline, t2)
	assert.True(t, errors.Is(err, chaoserr.ErrNotFound))
}

func TestCheckStatus(t *testing.T) {
	stub := &transporttest.Stub{}
	r, targets, _ := newRegistry(t, stub)
	ctx := context.Background()
	created, err := r.Register(ctx, server("web-1"))
	require.NoError(t, err)

	status, err := r.CheckStatus(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, status)

	stub.ProbeFunc = func(context.Context, *models.Target) (models.TargetStatus, error) {
		return models.StatusOffline, chaoserr.E(chaoserr.KindTargetUnreachable, "ssh.dial", "", errors.New("connection refused"))
	}
	status, err = r.CheckStatus(ctx, created.ID)
	assert.Equal(t, models.StatusOffline, status)
	assert.True(t, errors.Is(err, chaoserr.ErrProbe))
	assert.True(t, errors.Is(err, chaoserr.ErrTargetUnreachable))
	got, _ := targets.GetByID(ctx, created.ID)
	assert.Equal(t, models.StatusOffline, got.Status)

	stub.ProbeFunc = func(context.Context, *models.Target) (models.TargetStatus, error) { panic("boom") }
	status, err = r.CheckStatus(ctx, created.ID)
	assert.Equal(t, models.StatusUnknown, status)
	assert.True(t, errors.Is(err, chaoserr.ErrProbe))
}

func TestCheckStatus_TransportUnavailable(t *testing.T) {
	stub := &transporttest.Stub{ForErr: chaoserr.E(chaoserr.KindAuthentication, "credentials.Resolve", "unknown ref", nil)}
	r, targets, _ := newRegistry(t, stub)
	ctx := context.Background()
	created, err := r.Register(ctx, server("web-1"))
	require.NoError(t, err)

	status, err := r.CheckStatus(ctx, created.ID)
	assert.Equal(t, models.StatusUnknown, status)
	assert.True(t, errors.Is(err, chaoserr.ErrProbe))
	got, _ := targets.GetByID(ctx, created.ID)
	assert.NotNil(t, got.LastCheckedAt)
}

func TestDelete_RefusesReferencedTarget(t *testing.T) {
	r, _, exps := newRegistry(t, &transporttest.Stub{})
	ctx := context.Background()
	created, err := r.Register(ctx, server("web-1"))
	require.NoError(t, err)

	exp, err := exps.Create(ctx, models.Experiment{Name: "nightly", TargetID: created.ID})
	require.NoError(t, err)

	err = r.Delete(ctx, created.ID)
	assert.True(t, errors.Is(err, chaoserr.ErrConflict))

	_, err = exps.Delete(ctx, exp.ID)
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, created.ID))

	err = r.Delete(ctx, created.ID)
	assert.True(t, errors.Is(err, chaoserr.ErrNotFound))
}
