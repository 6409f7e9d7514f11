package experiments

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/memstore"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type knownTargets map[int]bool

func (k knownTargets) Resolve(_ context.Context, id int) (*models.Target, error) {
	if !k[id] {
		return nil, chaoserr.E(chaoserr.KindNotFound, "test", "", nil)
	}
	return &models.Target{ID: id}, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newService(t *testing.T) (*Service, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 4, 10, 1, 0, 0, 0, time.UTC)}
	return New(memstore.NewExperiments(), knownTargets{1: true, 2: true}, c.now, slog.New(slog.DiscardHandler)), c
}

func ptr(t time.Time) *time.Time { return &t }

func TestCreate_Validation(t *testing.T) {
	s, c := newService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		def   models.Experiment
		field string
	}{
		{"past run_at", models.Experiment{Name: "x", TargetID: 1, Action: models.ActionStop, ScheduleKind: models.ScheduleOnce, RunAt: ptr(c.t.Add(-time.Second))}, "run_at"},
		{"run_at now", models.Experiment{Name: "x", TargetID: 1, Action: models.ActionStop, ScheduleKind: models.ScheduleOnce, RunAt: ptr(c.t)}, "run_at"},
		{"bad cron", models.Experiment{Name: "x", TargetID: 1, Action: models.ActionStop, ScheduleKind: models.ScheduleRecurring, CronExpr: "every day at 02:00"}, "cron_expr"},
		{"unknown target", models.Experiment{Name: "x", TargetID: 99, Action: models.ActionStop, ScheduleKind: models.ScheduleRecurring, CronExpr: "@daily"}, "target_id"},
		{"bad action", models.Experiment{Name: "x", TargetID: 1, Action: "pause", ScheduleKind: models.ScheduleRecurring, CronExpr: "@daily"}, "action"},
		{"bad kind", models.Experiment{Name: "x", TargetID: 1, Action: models.ActionStop, ScheduleKind: "weekly"}, "schedule_kind"},
		{"no name", models.Experiment{TargetID: 1, Action: models.ActionStop, ScheduleKind: models.ScheduleRecurring, CronExpr: "@daily"}, "name"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Create(ctx, tc.def)
			require.True(t, errors.Is(err, chaoserr.ErrValidation), "got %v", err)
			assert.Contains(t, chaoserr.FieldsOf(err), tc.field)
		})
	}
}

func TestCreate_SetsFirstFire(t *testing.T) {
	s, c := newService(t)
	ctx := context.Background()

	once, err := s.Create(ctx, models.Experiment{Name: "restart S1", TargetID: 1, Action: models.ActionRestart,
		ScheduleKind: models.ScheduleOnce, RunAt: ptr(c.t.Add(5 * time.Second))})
	require.NoError(t, err)
	assert.True(t, once.Active)
	assert.Equal(t, c.t.Add(5*time.Second), *once.NextFireAt)

	rec, err := s.Create(ctx, models.Experiment{Name: "nightly", TargetID: 2, Action: models.ActionStop,
		ScheduleKind: models.ScheduleRecurring, CronExpr: "0 2 * * *"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 10, 2, 0, 0, 0, time.UTC), *rec.NextFireAt)
}

func TestListDue_NeverReturnsFiredSlotTwice(t *testing.T) {
	s, c := newService(t)
	ctx := context.Background()

	a, err := s.Create(ctx, models.Experiment{Name: "a", TargetID: 1, Action: models.ActionStop,
		ScheduleKind: models.ScheduleOnce, RunAt: ptr(c.t.Add(time.Minute))})
	require.NoError(t, err)
	b, err := s.Create(ctx, models.Experiment{Name: "b", TargetID: 2, Action: models.ActionStop,
		ScheduleKind: models.ScheduleOnce, RunAt: ptr(c.t.Add(time.Minute))})
	require.NoError(t, err)

	asOf := c.t.Add(time.Minute)
	due, err := s.ListDue(ctx, asOf)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, a.ID, due[0].ID, "ties break by id")
	assert.Equal(t, b.ID, due[1].ID)

	_, err = s.MarkFired(ctx, a.ID, asOf)
	require.NoError(t, err)

	due, err = s.ListDue(ctx, asOf)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, b.ID, due[0].ID)

	_, err = s.MarkFired(ctx, a.ID, asOf)
	assert.True(t, errors.Is(err, chaoserr.ErrConflict))
}

func TestMarkFired_RecurringRoundTrip(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()

	e, err := s.Create(ctx, models.Experiment{Name: "nightly", TargetID: 1, Action: models.ActionRestart,
		ScheduleKind: models.ScheduleRecurring, CronExpr: "0 2 * * *"})
	require.NoError(t, err)

	day := time.Date(2026, 4, 10, 2, 0, 0, 0, time.UTC)
	fired, err := s.MarkFired(ctx, e.ID, day)
	require.NoError(t, err)
	assert.True(t, fired.Active)
	assert.Equal(t, day.Add(24*time.Hour), *fired.NextFireAt)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, day.Add(24*time.Hour), *got.NextFireAt)
	assert.True(t, got.NextFireAt.After(day))

	due, err := s.ListDue(ctx, day)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestUpcomingAndDelete(t *testing.T) {
	s, c := newService(t)
	ctx := context.Background()

	later, _ := s.Create(ctx, models.Experiment{Name: "later", TargetID: 1, Action: models.ActionStop,
		ScheduleKind: models.ScheduleOnce, RunAt: ptr(c.t.Add(time.Hour))})
	sooner, _ := s.Create(ctx, models.Experiment{Name: "sooner", TargetID: 1, Action: models.ActionStart,
		ScheduleKind: models.ScheduleOnce, RunAt: ptr(c.t.Add(time.Minute))})

	up, err := s.Upcoming(ctx, 10)
	require.NoError(t, err)
	require.Len(t, up, 2)
	assert.Equal(t, sooner.ID, up[0].ID)
	assert.Equal(t, later.ID, up[1].ID)

	total, active, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, active)

	require.NoError(t, s.Delete(ctx, later.ID))
	assert.True(t, errors.Is(s.Delete(ctx, later.ID), chaoserr.ErrNotFound))
	_, err = s.Get(ctx, later.ID)
	assert.True(t, errors.Is(err, chaoserr.ErrNotFound))
}
