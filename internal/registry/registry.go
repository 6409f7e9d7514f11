// Package registry holds known targets and owns their status.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/metrics"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/crucial707/chaos-scheduler/internal/transport"
	"github.com/go-playground/validator/v10"
)

// Store persists targets. repo.TargetRepo and memstore.Targets implement it.
type Store interface {
	Create(ctx context.Context, t models.Target) (*models.Target, error)
	GetByID(ctx context.Context, id int) (*models.Target, error)
	List(ctx context.Context, limit, offset int) ([]models.Target, error)
	ListByEndpoint(ctx context.Context, endpoint string) ([]models.Target, error)
	CountByType(ctx context.Context) (map[models.TargetType]int, error)
	UpdateStatus(ctx context.Context, id int, status models.TargetStatus, checkedAt time.Time) (models.TargetStatus, bool, error)
	Delete(ctx context.Context, id int) (bool, error)
}

// RefCounter reports how many experiments reference a target.
type RefCounter interface {
	CountByTarget(ctx context.Context, targetID int) (int, error)
}

type Registry struct {
	store        Store
	refs         RefCounter
	transports   transport.Factory
	validate     *validator.Validate
	probeTimeout time.Duration
	now          func() time.Time
	log          *slog.Logger
}

type Option func(*Registry)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.log = l } }

func WithProbeTimeout(d time.Duration) Option { return func(r *Registry) { r.probeTimeout = d } }

func New(store Store, refs RefCounter, transports transport.Factory, opts ...Option) *Registry {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	r := &Registry{
		store:        store,
		refs:         refs,
		transports:   transports,
		validate:     v,
		probeTimeout: 10 * time.Second,
		now:          time.Now,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With("component", "registry")
	return r
}

func (r *Registry) check(t models.Target) error {
	fields := map[string]string{}
	if strings.TrimSpace(t.Name) == "" {
		fields["name"] = "required"
	}
	var (
		prefix string
		conn   any
	)
	switch t.Type {
	case models.TargetServer:
		prefix, conn = "server", t.Server
		if t.Container != nil {
			fields["container"] = "not allowed for server targets"
		}
	case models.TargetContainer:
		prefix, conn = "container", t.Container
		if t.Server != nil {
			fields["server"] = "not allowed for container targets"
		}
	default:
		fields["type"] = "must be server or container"
	}
	if prefix != "" {
		if reflect.ValueOf(conn).IsNil() {
			fields[prefix] = "required"
		} else if err := r.validate.Struct(conn); err != nil {
			if verrs, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range verrs {
					fields[prefix+"."+fe.Field()] = fe.Tag()
				}
			} else {
				fields[prefix] = err.Error()
			}
		}
	}
	if len(fields) > 0 {
		return chaoserr.Validation("registry.Register", fields)
	}
	return nil
}

// Register validates and stores a target. New targets start with status unknown.
func (r *Registry) Register(ctx context.Context, t models.Target) (*models.Target, error) {
	if err := r.check(t); err != nil {
		return nil, err
	}
	t.ID = 0
	t.Status = models.StatusUnknown
	t.LastCheckedAt = nil
	created, err := r.store.Create(ctx, t)
	if err != nil {
		return nil, chaoserr.E(chaoserr.KindPersistence, "registry.Register", "", err)
	}
	r.log.Info("target registered", "target_id", created.ID, "type", created.Type, "address", created.Address())
	return created, nil
}

// Resolve returns a target or a NotFound error.
func (r *Registry) Resolve(ctx context.Context, id int) (*models.Target, error) {
	t, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, chaoserr.E(chaoserr.KindPersistence, "registry.Resolve", "", err)
	}
	if t == nil {
		return nil, chaoserr.E(chaoserr.KindNotFound, "registry.Resolve", fmt.Sprintf("target %d", id), nil)
	}
	return t, nil
}

func (r *Registry) List(ctx context.Context, limit, offset int) ([]models.Target, error) {
	list, err := r.store.List(ctx, limit, offset)
	if err != nil {
		return nil, chaoserr.E(chaoserr.KindPersistence, "registry.List", "", err)
	}
	return list, nil
}

// Counts returns the number of targets per type.
func (r *Registry) Counts(ctx context.Context) (map[models.TargetType]int, error) {
	counts, err := r.store.CountByType(ctx)
	if err != nil {
		return nil, chaoserr.E(chaoserr.KindPersistence, "registry.Counts", "", err)
	}
	return counts, nil
}

// SetStatus records a status report. Repeating the current status only moves
// the checked-at timestamp; transitions are logged and counted once.
func (r *Registry) SetStatus(ctx context.Context, id int, status models.TargetStatus, checkedAt time.Time) error {
	prev, found, err := r.store.UpdateStatus(ctx, id, status, checkedAt.UTC())
	if err != nil {
		return chaoserr.E(chaoserr.KindPersistence, "registry.SetStatus", "", err)
	}
	if !found {
		return chaoserr.E(chaoserr.KindNotFound, "registry.SetStatus", fmt.Sprintf("target %d", id), nil)
	}
	if prev != status {
		r.log.Info("target status changed", "target_id", id, "from", prev, "to", status)
		metrics.TargetStatusChanges.WithLabelValues(string(status)).Inc()
	}
	return nil
}

// CheckStatus probes a target and records the result. A failed probe stores
// offline (unreachable) or unknown and returns a Probe error; it never panics.
func (r *Registry) CheckStatus(ctx context.Context, id int) (status models.TargetStatus, err error) {
	t, err := r.Resolve(ctx, id)
	if err != nil {
		return "", err
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("probe panicked", "target_id", id, "panic", p)
			status = models.StatusUnknown
			_ = r.SetStatus(context.WithoutCancel(ctx), id, status, r.now())
			err = chaoserr.E(chaoserr.KindProbe, "registry.CheckStatus", fmt.Sprintf("panic: %v", p), nil)
		}
	}()

	pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	status, perr := r.probe(pctx, t)
	if serr := r.SetStatus(context.WithoutCancel(ctx), id, status, r.now()); serr != nil {
		return status, serr
	}
	if perr != nil {
		r.log.Warn("probe failed", "target_id", id, "status", status, "err", perr)
		return status, chaoserr.E(chaoserr.KindProbe, "registry.CheckStatus", "", perr)
	}
	return status, nil
}

func (r *Registry) probe(ctx context.Context, t *models.Target) (models.TargetStatus, error) {
	tr, err := r.transports.For(ctx, t)
	if err != nil {
		return models.StatusUnknown, err
	}
	defer tr.Close()
	status, err := tr.Probe(ctx)
	if err != nil && status == "" {
		status = models.StatusUnknown
	}
	return status, err
}

// Delete removes a target that no experiment references.
func (r *Registry) Delete(ctx context.Context, id int) error {
	if r.refs != nil {
		n, err := r.refs.CountByTarget(ctx, id)
		if err != nil {
			return chaoserr.E(chaoserr.KindPersistence, "registry.Delete", "", err)
		}
		if n > 0 {
			return chaoserr.E(chaoserr.KindConflict, "registry.Delete", fmt.Sprintf("target %d is referenced by %d experiment(s)", id, n), nil)
		}
	}
	ok, err := r.store.Delete(ctx, id)
	if err != nil {
		if chaoserr.KindOf(err) == chaoserr.KindConflict {
			return err
		}
		return chaoserr.E(chaoserr.KindPersistence, "registry.Delete", "", err)
	}
	if !ok {
		return chaoserr.E(chaoserr.KindNotFound, "registry.Delete", fmt.Sprintf("target %d", id), nil)
	}
	r.log.Info("target deleted", "target_id", id)
	return nil
}
