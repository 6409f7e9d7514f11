// Test style: the HTTP-facing packages (handlers, middleware, repo, cmd) use
// plain testing with t.Errorf/t.Fatalf and httptest or go-sqlmock. The engine
// packages under internal (registry, executor, experiments, runlog, scheduler,
// schedule, transport, memstore) use testify's assert and require. A new
// package follows whichever group it sits with.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/executor"
	"github.com/crucial707/chaos-scheduler/internal/experiments"
	"github.com/crucial707/chaos-scheduler/internal/memstore"
	"github.com/crucial707/chaos-scheduler/internal/middleware"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/crucial707/chaos-scheduler/internal/registry"
	"github.com/crucial707/chaos-scheduler/internal/runlog"
	"github.com/crucial707/chaos-scheduler/internal/transport/transporttest"
	"github.com/go-chi/chi/v5"
)

// requestWithChiURLParams returns a request with chi route context and URL params set.
func requestWithChiURLParams(method, path string, body []byte, params map[string]string) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, middleware.UserIDKey, 7)
	return r.WithContext(ctx)
}

type fixture struct {
	stub    *transporttest.Stub
	runs    *memstore.Runs
	audit   *memstore.Audit
	reg     *registry.Registry
	exps    *experiments.Service
	log     *runlog.Log
	targets *TargetHandler
	expH    *ExperimentHandler
	logs    *LogHandler
	reports *ReportHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	quiet := slog.New(slog.DiscardHandler)
	f := &fixture{
		stub:  &transporttest.Stub{},
		runs:  memstore.NewRuns(),
		audit: memstore.NewAudit(),
	}
	targetStore := memstore.NewTargets()
	expStore := memstore.NewExperiments()
	f.reg = registry.New(targetStore, expStore, f.stub, registry.WithLogger(quiet))
	f.exps = experiments.New(expStore, f.reg, time.Now, quiet)
	f.log = runlog.New(f.runs, 16, time.Hour, quiet)
	ex := executor.New(f.stub, f.log, f.reg, executor.WithLogger(quiet),
		executor.WithSleep(func(context.Context, time.Duration) error { return nil }))

	f.targets = &TargetHandler{Registry: f.reg, Executor: ex, Audit: f.audit}
	f.expH = &ExperimentHandler{Experiments: f.exps, Audit: f.audit}
	f.logs = &LogHandler{Log: f.log}
	f.reports = &ReportHandler{Registry: f.reg, Experiments: f.exps, Log: f.log}
	return f
}

func (f *fixture) server(t *testing.T, name string) *models.Target {
	t.Helper()
	tgt, err := f.reg.Register(context.Background(), models.Target{
		Name:   name,
		Type:   models.TargetServer,
		Server: &models.ServerConn{Host: "10.1.0.5", Username: "ops", CredentialRef: "lab"},
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return tgt
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
	}
}
