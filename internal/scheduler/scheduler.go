// Package scheduler polls for due experiments on a fixed tick and hands them
// to the executor through a worker pool.
//
// Each tick moves Idle -> Polling -> Dispatching -> Idle. A due experiment's
// slot is consumed (MarkFired) before its dispatch is queued, so a slot fires
// at most once even if ticks overlap or run late.
//
// Dispatches for one target wait in that target's lane and run one after the
// other on a single worker. A busy target therefore holds at most one worker
// and never delays dispatch to the others.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/executor"
	"github.com/crucial707/chaos-scheduler/internal/metrics"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/google/uuid"
)

// DueSource lists and consumes due experiment slots. *experiments.Service implements it.
type DueSource interface {
	ListDue(ctx context.Context, asOf time.Time) ([]models.Experiment, error)
	MarkFired(ctx context.Context, id int, firedAt time.Time) (*models.Experiment, error)
}

// TargetResolver loads a target. *registry.Registry implements it.
type TargetResolver interface {
	Resolve(ctx context.Context, id int) (*models.Target, error)
}

// Executor runs one action. *executor.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, req executor.Request) (*models.RunRecord, error)
}

type State int32

const (
	StateIdle State = iota
	StatePolling
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	}
	return "idle"
}

type Scheduler struct {
	due     DueSource
	targets TargetResolver
	exec    Executor
	tick    time.Duration
	workers int
	now     func() time.Time
	log     *slog.Logger

	pool      *pool
	lanes     *lanes
	startOnce sync.Once
	state     atomic.Int32
	inflight  sync.WaitGroup
	ticking   sync.Mutex
}

type Option func(*Scheduler)

// WithTick sets the poll interval.
func WithTick(d time.Duration) Option { return func(s *Scheduler) { s.tick = d } }

// WithWorkers bounds concurrent dispatches.
func WithWorkers(n int) Option { return func(s *Scheduler) { s.workers = n } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.log = l } }

func New(due DueSource, targets TargetResolver, exec Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		due:     due,
		targets: targets,
		exec:    exec,
		tick:    5 * time.Second,
		workers: 8,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "scheduler")
	s.pool = newPool(s.workers, 16)
	s.lanes = newLanes(s.pool)
	return s
}

// State reports where the scheduler is in its tick cycle.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Run ticks until ctx is done, then waits for in-flight dispatches.
func (s *Scheduler) Run(ctx context.Context) error {
	s.startOnce.Do(s.pool.start)
	s.log.Info("scheduler started", "tick", s.tick, "workers", s.workers)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping", "queued", s.pool.queued())
			s.Close()
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Close stops accepting dispatches and waits for accepted ones to finish.
// Dispatches still queued when their ctx is done are recorded by the executor
// as canceled runs without touching the target.
func (s *Scheduler) Close() {
	s.pool.stop()
	s.inflight.Wait()
}

// Wait blocks until every dispatch queued so far has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Tick runs one poll-and-dispatch cycle as of now and returns how many
// experiments were handed to the executor. It does not wait for them.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.startOnce.Do(s.pool.start)
	s.ticking.Lock()
	defer s.ticking.Unlock()
	defer s.state.Store(int32(StateIdle))

	metrics.SchedulerTicks.Inc()
	s.state.Store(int32(StatePolling))
	due, err := s.due.ListDue(ctx, now)
	if err != nil {
		s.log.Error("list due experiments", "err", err)
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	s.state.Store(int32(StateDispatching))
	dispatched := 0
	for _, e := range due {
		if ctx.Err() != nil {
			break
		}
		if err := s.dispatch(ctx, e, now); err != nil {
			result := "error"
			if errors.Is(err, chaoserr.ErrConflict) {
				result = "skipped"
			}
			metrics.SchedulerDispatched.WithLabelValues(result).Inc()
			s.log.Warn("experiment not dispatched", "experiment_id", e.ID, "target_id", e.TargetID, "err", err)
			continue
		}
		metrics.SchedulerDispatched.WithLabelValues("queued").Inc()
		dispatched++
	}
	s.log.Debug("tick done", "due", len(due), "dispatched", dispatched)
	return dispatched
}

// dispatch consumes e's slot and queues its execution. A failure here only
// affects e.
func (s *Scheduler) dispatch(ctx context.Context, e models.Experiment, now time.Time) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("dispatch panicked: %v", p)
		}
	}()

	target, err := s.targets.Resolve(ctx, e.TargetID)
	if err != nil {
		return err
	}
	if _, err := s.due.MarkFired(ctx, e.ID, now); err != nil {
		return err
	}

	expID := e.ID
	req := executor.Request{
		Target:       target,
		Action:       e.Action,
		ExperimentID: &expID,
		TriggerID:    uuid.NewString(),
	}
	log := s.log.With("experiment_id", e.ID, "target_id", e.TargetID, "action", e.Action, "trigger_id", req.TriggerID)

	s.inflight.Add(1)
	ok := s.lanes.push(ctx, e.TargetID, func() {
		defer s.inflight.Done()
		defer func() {
			if p := recover(); p != nil {
				log.Error("execution panicked", "panic", p)
			}
		}()
		rec, err := s.exec.Execute(ctx, req)
		switch {
		case err == nil:
			log.Info("experiment executed", "run_id", rec.ID)
		case errors.Is(err, chaoserr.ErrPersistence):
			log.Error("experiment executed but run record not persisted", "err", err)
		default:
			log.Warn("experiment failed", "err", err)
		}
	})
	if !ok {
		s.inflight.Done()
		log.Error("fired slot dropped: scheduler shutting down")
		return chaoserr.E(chaoserr.KindUnknown, "scheduler.dispatch", "dispatch queue closed", nil)
	}
	return nil
}
