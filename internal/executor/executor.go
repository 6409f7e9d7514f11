// Package executor performs one chaos action against one target.
//
// Actions on the same target are strictly serialized through a per-target
// lock. Transient transport failures are retried with exponential backoff up
// to a fixed number of attempts. Every execution that reaches the transport
// produces exactly one run record, written before the lock is released, and so
// does every scheduled trigger that never got the lock.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/metrics"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/crucial707/chaos-scheduler/internal/transport"
	"github.com/google/uuid"
)

// RunLog receives terminal run records.
type RunLog interface {
	Append(ctx context.Context, rec *models.RunRecord) error
}

// StatusSetter records the target status implied by a successful action.
type StatusSetter interface {
	SetStatus(ctx context.Context, id int, status models.TargetStatus, checkedAt time.Time) error
}

// Request is one execution. ExperimentID is nil for ad-hoc runs.
type Request struct {
	Target       *models.Target
	Action       models.Action
	ExperimentID *int
	// TriggerID identifies the logical trigger; generated when empty.
	TriggerID string
}

type Executor struct {
	transports  transport.Factory
	runlog      RunLog
	status      StatusSetter
	locks       *lockArena
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	log         *slog.Logger
}

type Option func(*Executor)

// WithTimeout bounds a single transport attempt.
func WithTimeout(d time.Duration) Option { return func(e *Executor) { e.timeout = d } }

// WithRetry sets the attempt bound and the first backoff delay.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(e *Executor) {
		e.maxAttempts = maxAttempts
		e.backoff = backoff
	}
}

// WithSleep replaces the backoff sleep, mostly for tests.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = f }
}

func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.log = l } }

func New(transports transport.Factory, runlog RunLog, status StatusSetter, opts ...Option) *Executor {
	e := &Executor{
		transports:  transports,
		runlog:      runlog,
		status:      status,
		locks:       newLockArena(),
		timeout:     30 * time.Second,
		maxAttempts: 3,
		backoff:     time.Second,
		sleep:       sleepCtx,
		now:         time.Now,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.maxAttempts < 1 {
		e.maxAttempts = 1
	}
	e.log = e.log.With("component", "executor")
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// impliedStatus is the status a target is left in after a successful action.
func impliedStatus(a models.Action) models.TargetStatus {
	if a == models.ActionStop {
		return models.StatusOffline
	}
	return models.StatusOnline
}

// Execute runs the action and returns its run record. The returned error is
// nil on success, the action's failure otherwise, or a Persistence error when
// the record could not be stored (the action's outcome is still in the record).
// Requests rejected before touching the target return a nil record, except a
// scheduled trigger canceled while waiting for the target lock, which is
// recorded as a failed run with zero attempts.
func (e *Executor) Execute(ctx context.Context, req Request) (*models.RunRecord, error) {
	if req.Target == nil {
		return nil, chaoserr.Validation("executor.Execute", map[string]string{"target": "required"})
	}
	if !req.Action.Valid() {
		return nil, chaoserr.Validation("executor.Execute", map[string]string{"action": "must be stop, start or restart"})
	}
	if req.TriggerID == "" {
		req.TriggerID = uuid.NewString()
	}
	t := req.Target
	log := e.log.With("target_id", t.ID, "action", req.Action, "trigger_id", req.TriggerID)
	if req.ExperimentID != nil {
		log = log.With("experiment_id", *req.ExperimentID)
	}

	release, err := e.locks.Acquire(ctx, t.ID)
	if err != nil {
		err = chaoserr.E(chaoserr.KindTimeout, "executor.Execute", "canceled before start", err)
		if req.ExperimentID == nil {
			return nil, err
		}
		return e.abandoned(ctx, req, err, log)
	}
	defer release()

	metrics.ActionsInFlight.Inc()
	defer metrics.ActionsInFlight.Dec()

	rec := &models.RunRecord{
		TriggerID:    req.TriggerID,
		ExperimentID: req.ExperimentID,
		TargetID:     t.ID,
		TargetName:   t.Name,
		TargetType:   t.Type,
		Action:       req.Action,
		StartedAt:    e.now().UTC(),
	}
	log.Info("action started")

	detail, attempts, actErr := e.perform(ctx, t, req.Action, log)

	rec.CompletedAt = e.now().UTC()
	rec.Attempts = attempts
	rec.Detail = detail
	if actErr != nil {
		rec.Status = models.RunFailure
		rec.Error = actErr.Error()
	} else {
		rec.Status = models.RunSuccess
	}
	metrics.RecordAction(string(t.Type), string(req.Action), string(rec.Status), rec.CompletedAt.Sub(rec.StartedAt).Seconds())

	// The side effect has happened; the record and the status are written even
	// if the caller gave up.
	persistCtx := context.WithoutCancel(ctx)
	if actErr == nil && e.status != nil {
		if err := e.status.SetStatus(persistCtx, t.ID, impliedStatus(req.Action), rec.CompletedAt); err != nil {
			log.Warn("status not recorded", "err", err)
		}
	}
	if err := e.append(persistCtx, rec, log); err != nil {
		return rec, err
	}

	if actErr != nil {
		log.Warn("action failed", "attempts", attempts, "err", actErr)
		return rec, actErr
	}
	log.Info("action succeeded", "attempts", attempts, "duration", rec.CompletedAt.Sub(rec.StartedAt))
	return rec, nil
}

func (e *Executor) append(ctx context.Context, rec *models.RunRecord, log *slog.Logger) error {
	err := e.runlog.Append(ctx, rec)
	if err == nil {
		return nil
	}
	log.Error("run record not persisted", "status", rec.Status, "err", err)
	if chaoserr.KindOf(err) != chaoserr.KindPersistence {
		err = chaoserr.E(chaoserr.KindPersistence, "executor.Execute", "append run record", err)
	}
	return err
}

// abandoned records a scheduled trigger that was canceled while waiting for
// its target. The slot is already consumed, so the record is the only trace.
func (e *Executor) abandoned(ctx context.Context, req Request, cause error, log *slog.Logger) (*models.RunRecord, error) {
	now := e.now().UTC()
	rec := &models.RunRecord{
		TriggerID:    req.TriggerID,
		ExperimentID: req.ExperimentID,
		TargetID:     req.Target.ID,
		TargetName:   req.Target.Name,
		TargetType:   req.Target.Type,
		Action:       req.Action,
		Status:       models.RunFailure,
		Error:        cause.Error(),
		StartedAt:    now,
		CompletedAt:  now,
	}
	metrics.RecordAction(string(req.Target.Type), string(req.Action), string(rec.Status), 0)
	log.Warn("scheduled action abandoned", "err", cause)
	if err := e.append(context.WithoutCancel(ctx), rec, log); err != nil {
		return rec, err
	}
	return rec, cause
}

// perform runs the transport with per-attempt timeouts and bounded retry.
// Panics from the transport become a failed outcome.
func (e *Executor) perform(ctx context.Context, t *models.Target, action models.Action, log *slog.Logger) (detail string, attempts int, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("transport panicked", "panic", p)
			detail = ""
			err = chaoserr.E(chaoserr.KindUnknown, "executor.Execute", fmt.Sprintf("panic: %v", p), nil)
		}
	}()

	tr, err := e.transports.For(ctx, t)
	if err != nil {
		if chaoserr.KindOf(err) == chaoserr.KindUnknown {
			err = chaoserr.E(chaoserr.KindTargetUnreachable, "executor.Execute", "build transport", err)
		}
		return "", 0, err
	}
	defer tr.Close()

	for attempts = 1; ; attempts++ {
		detail, err = e.attempt(ctx, tr, action)
		if err == nil {
			metrics.ActionAttempts.WithLabelValues("success").Inc()
			return detail, attempts, nil
		}
		metrics.ActionAttempts.WithLabelValues(chaoserr.KindOf(err).String()).Inc()
		log.Debug("attempt failed", "attempt", attempts, "err", err)

		if !chaoserr.Retryable(err) {
			return "", attempts, err
		}
		if attempts >= e.maxAttempts {
			return "", attempts, chaoserr.E(chaoserr.KindTargetUnreachable, "executor.Execute",
				fmt.Sprintf("giving up after %d attempts", attempts), err)
		}
		if ctx.Err() != nil {
			return "", attempts, chaoserr.E(chaoserr.KindTimeout, "executor.Execute", "canceled", err)
		}
		delay := e.backoff << (attempts - 1)
		if serr := e.sleep(ctx, delay); serr != nil {
			return "", attempts, chaoserr.E(chaoserr.KindTimeout, "executor.Execute", "canceled during backoff", err)
		}
	}
}

func (e *Executor) attempt(ctx context.Context, tr transport.Transport, action models.Action) (string, error) {
	actx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	detail, err := tr.Run(actx, action)
	if err == nil {
		return detail, nil
	}
	if chaoserr.KindOf(err) == chaoserr.KindUnknown {
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return "", chaoserr.E(chaoserr.KindTimeout, "executor.attempt", "", err)
		}
		return "", chaoserr.E(chaoserr.KindActionRejected, "executor.attempt", "", err)
	}
	return "", err
}

// Busy reports whether an action is currently running against the target.
func (e *Executor) Busy(targetID int) bool {
	return e.locks.Held(targetID)
}
