package main

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/config"
	"github.com/crucial707/chaos-scheduler/internal/executor"
	"github.com/crucial707/chaos-scheduler/internal/experiments"
	"github.com/crucial707/chaos-scheduler/internal/handlers"
	"github.com/crucial707/chaos-scheduler/internal/memstore"
	"github.com/crucial707/chaos-scheduler/internal/registry"
	"github.com/crucial707/chaos-scheduler/internal/repo"
	"github.com/crucial707/chaos-scheduler/internal/runlog"
	"github.com/crucial707/chaos-scheduler/internal/scheduler"
	"github.com/crucial707/chaos-scheduler/internal/transport"
)

type experimentStore interface {
	experiments.Store
	registry.RefCounter
}

// stores is the persistence backend: postgres repos or the in-memory stores.
type stores struct {
	targets     registry.Store
	experiments experimentStore
	runs        runlog.Store
	users       handlers.UserStore
	audit       handlers.AuditStore
}

func postgresStores(db *sql.DB) stores {
	return stores{
		targets:     repo.NewTargetRepo(db),
		experiments: repo.NewExperimentRepo(db),
		runs:        repo.NewRunRepo(db),
		users:       repo.NewUserRepo(db),
		audit:       repo.NewAuditRepo(db),
	}
}

func memoryStores() stores {
	return stores{
		targets:     memstore.NewTargets(),
		experiments: memstore.NewExperiments(),
		runs:        memstore.NewRuns(),
		users:       memstore.NewUsers(),
		audit:       memstore.NewAudit(),
	}
}

// app holds everything the router and the background loops need.
type app struct {
	cfg config.Config
	// db is nil in memory mode.
	db     *sql.DB
	stores stores

	registry    *registry.Registry
	experiments *experiments.Service
	runlog      *runlog.Log
	executor    *executor.Executor
	scheduler   *scheduler.Scheduler
}

// newApp wires the engine components on top of st.
func newApp(cfg config.Config, db *sql.DB, st stores, transports transport.Factory, log *slog.Logger) *app {
	a := &app{cfg: cfg, db: db, stores: st}
	a.registry = registry.New(st.targets, st.experiments, transports,
		registry.WithLogger(log), registry.WithProbeTimeout(cfg.ProbeTimeout))
	a.experiments = experiments.New(st.experiments, a.registry, time.Now, log)
	a.runlog = runlog.New(st.runs, cfg.RunLogBufferSize, cfg.RunLogRetryInterval, log)
	a.executor = executor.New(transports, a.runlog, a.registry,
		executor.WithTimeout(cfg.ActionTimeout),
		executor.WithRetry(cfg.ActionMaxAttempts, cfg.ActionBackoffBase),
		executor.WithLogger(log))
	a.scheduler = scheduler.New(a.experiments, a.registry, a.executor,
		scheduler.WithTick(cfg.SchedulerTick),
		scheduler.WithWorkers(cfg.SchedulerWorkers),
		scheduler.WithLogger(log))
	return a
}
