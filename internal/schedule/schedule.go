// Package schedule computes experiment fire times.
//
// Recurring experiments use the standard five-field cron grammar
// (minute hour day-of-month month day-of-week) plus the descriptors
// @yearly, @monthly, @weekly, @daily, @hourly and "@every <duration>",
// as implemented by robfig/cron. A leading "CRON_TZ=<zone>" selects a
// time zone; otherwise expressions are evaluated in UTC.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/robfig/cron/v3"
)

// Parse validates a recurrence expression and returns its schedule.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	if !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		expr = "CRON_TZ=UTC " + expr
	}
	return cron.ParseStandard(expr)
}

// Next returns the first fire time of a recurrence strictly after t.
func Next(expr string, t time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := s.Next(t)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron expression %q never fires after %s", expr, t.Format(time.RFC3339))
	}
	return next.UTC(), nil
}

// FirstFire returns the initial next-fire time for a new experiment.
func FirstFire(e models.Experiment, now time.Time) (time.Time, error) {
	switch e.ScheduleKind {
	case models.ScheduleOnce:
		if e.RunAt == nil {
			return time.Time{}, fmt.Errorf("one-time experiment needs run_at")
		}
		return e.RunAt.UTC(), nil
	case models.ScheduleRecurring:
		return Next(e.CronExpr, now)
	}
	return time.Time{}, fmt.Errorf("unknown schedule kind %q", e.ScheduleKind)
}

// AfterFiring returns the schedule state once an experiment has fired at firedAt.
// One-time experiments deactivate; recurring ones move to the first slot strictly
// after firedAt, skipping any slots missed while the scheduler was late.
func AfterFiring(e models.Experiment, firedAt time.Time) (active bool, next *time.Time, err error) {
	if e.ScheduleKind != models.ScheduleRecurring {
		return false, nil, nil
	}
	from := firedAt
	if e.NextFireAt != nil && e.NextFireAt.After(from) {
		from = *e.NextFireAt
	}
	n, err := Next(e.CronExpr, from)
	if err != nil {
		return false, nil, err
	}
	return true, &n, nil
}
