// Package experiments validates and stores experiment definitions and
// computes which ones are due.
package experiments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/crucial707/chaos-scheduler/internal/schedule"
)

// Store persists experiments. repo.ExperimentRepo and memstore.Experiments implement it.
type Store interface {
	Create(ctx context.Context, e models.Experiment) (*models.Experiment, error)
	GetByID(ctx context.Context, id int) (*models.Experiment, error)
	List(ctx context.Context, limit, offset int) ([]models.Experiment, error)
	ListDue(ctx context.Context, asOf time.Time) ([]models.Experiment, error)
	ListUpcoming(ctx context.Context, after time.Time, limit int) ([]models.Experiment, error)
	UpdateSchedule(ctx context.Context, id int, active bool, nextFireAt *time.Time, firedAt time.Time) (bool, error)
	Counts(ctx context.Context) (total, active int, err error)
	Delete(ctx context.Context, id int) (bool, error)
}

// TargetResolver checks that a target exists.
type TargetResolver interface {
	Resolve(ctx context.Context, id int) (*models.Target, error)
}

type Service struct {
	store   Store
	targets TargetResolver
	now     func() time.Time
	log     *slog.Logger
}

func New(store Store, targets TargetResolver, now func() time.Time, log *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, targets: targets, now: now, log: log.With("component", "experiments")}
}

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return chaoserr.E(chaoserr.KindPersistence, op, "", err)
}

// Create validates a definition and stores it active with its first fire time.
func (s *Service) Create(ctx context.Context, def models.Experiment) (*models.Experiment, error) {
	const op = "experiments.Create"
	now := s.now().UTC()
	fields := map[string]string{}

	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		fields["name"] = "required"
	}
	if !def.Action.Valid() {
		fields["action"] = "must be stop, start or restart"
	}
	switch def.ScheduleKind {
	case models.ScheduleOnce:
		switch {
		case def.RunAt == nil:
			fields["run_at"] = "required for one_time experiments"
		case !def.RunAt.After(now):
			fields["run_at"] = "must be in the future"
		}
		if def.CronExpr != "" {
			fields["cron_expr"] = "not allowed for one_time experiments"
		}
	case models.ScheduleRecurring:
		if _, err := schedule.Parse(def.CronExpr); err != nil {
			fields["cron_expr"] = err.Error()
		}
		if def.RunAt != nil {
			fields["run_at"] = "not allowed for recurring experiments"
		}
	default:
		fields["schedule_kind"] = "must be one_time or recurring"
	}
	if def.TargetID <= 0 {
		fields["target_id"] = "required"
	} else if _, err := s.targets.Resolve(ctx, def.TargetID); err != nil {
		if chaoserr.KindOf(err) != chaoserr.KindNotFound {
			return nil, err
		}
		fields["target_id"] = fmt.Sprintf("target %d does not exist", def.TargetID)
	}
	if len(fields) > 0 {
		return nil, chaoserr.Validation(op, fields)
	}

	next, err := schedule.FirstFire(def, now)
	if err != nil {
		return nil, chaoserr.Validation(op, map[string]string{"schedule": err.Error()})
	}
	def.ID = 0
	def.NextFireAt = &next
	def.LastFiredAt = nil
	def.Active = true
	if def.RunAt != nil {
		at := def.RunAt.UTC()
		def.RunAt = &at
	}

	created, err := s.store.Create(ctx, def)
	if err != nil {
		if chaoserr.KindOf(err) == chaoserr.KindNotFound {
			return nil, chaoserr.Validation(op, map[string]string{"target_id": "target does not exist"})
		}
		return nil, persistence(op, err)
	}
	s.log.Info("experiment created", "experiment_id", created.ID, "target_id", created.TargetID,
		"action", created.Action, "kind", created.ScheduleKind, "next_fire_at", next)
	return created, nil
}

// Get returns one experiment or NotFound.
func (s *Service) Get(ctx context.Context, id int) (*models.Experiment, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("experiments.Get", err)
	}
	if e == nil {
		return nil, chaoserr.E(chaoserr.KindNotFound, "experiments.Get", fmt.Sprintf("experiment %d", id), nil)
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]models.Experiment, error) {
	list, err := s.store.List(ctx, limit, offset)
	return list, persistence("experiments.List", err)
}

// ListDue returns active experiments with next fire time at or before asOf,
// ordered by next fire time then id.
func (s *Service) ListDue(ctx context.Context, asOf time.Time) ([]models.Experiment, error) {
	list, err := s.store.ListDue(ctx, asOf.UTC())
	return list, persistence("experiments.ListDue", err)
}

// Upcoming returns active experiments whose next fire time is in the future.
func (s *Service) Upcoming(ctx context.Context, limit int) ([]models.Experiment, error) {
	list, err := s.store.ListUpcoming(ctx, s.now().UTC(), limit)
	return list, persistence("experiments.Upcoming", err)
}

// MarkFired consumes the experiment's current slot. One-time experiments become
// inactive; recurring ones move to the first slot strictly after firedAt.
// A Conflict error means the slot was already consumed and must not be dispatched.
func (s *Service) MarkFired(ctx context.Context, id int, firedAt time.Time) (*models.Experiment, error) {
	const op = "experiments.MarkFired"
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Active {
		return nil, chaoserr.E(chaoserr.KindConflict, op, fmt.Sprintf("experiment %d is inactive", id), nil)
	}
	firedAt = firedAt.UTC()
	active, next, err := schedule.AfterFiring(*e, firedAt)
	if err != nil {
		// A stored expression that no longer parses cannot fire again.
		s.log.Error("recurrence unusable, deactivating", "experiment_id", id, "err", err)
		active, next = false, nil
	}
	ok, err := s.store.UpdateSchedule(ctx, id, active, next, firedAt)
	if err != nil {
		return nil, persistence(op, err)
	}
	if !ok {
		return nil, chaoserr.E(chaoserr.KindConflict, op, fmt.Sprintf("experiment %d already fired", id), nil)
	}
	e.Active = active
	e.NextFireAt = next
	e.LastFiredAt = &firedAt
	return e, nil
}

func (s *Service) Counts(ctx context.Context) (total, active int, err error) {
	total, active, err = s.store.Counts(ctx)
	return total, active, persistence("experiments.Counts", err)
}

func (s *Service) Delete(ctx context.Context, id int) error {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return persistence("experiments.Delete", err)
	}
	if !ok {
		return chaoserr.E(chaoserr.KindNotFound, "experiments.Delete", fmt.Sprintf("experiment %d", id), nil)
	}
	s.log.Info("experiment deleted", "experiment_id", id)
	return nil
}
