package models

import "time"

// Action is a destructive operation applied to a target.
type Action string

const (
	ActionStop    Action = "stop"
	ActionStart   Action = "start"
	ActionRestart Action = "restart"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionStop, ActionStart, ActionRestart:
		return true
	}
	return false
}

// ScheduleKind distinguishes one-time from recurring experiments.
type ScheduleKind string

const (
	ScheduleOnce      ScheduleKind = "one_time"
	ScheduleRecurring ScheduleKind = "recurring"
)

// Experiment is a scheduled chaos action against a single target.
// A one-time experiment carries RunAt; a recurring one carries CronExpr.
// NextFireAt and Active are written only by the scheduler after creation.
type Experiment struct {
	ID           int          `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	TargetID     int          `json:"target_id"`
	Action       Action       `json:"action"`
	ScheduleKind ScheduleKind `json:"schedule_kind"`
	RunAt        *time.Time   `json:"run_at,omitempty"`
	CronExpr     string       `json:"cron_expr,omitempty"`
	NextFireAt   *time.Time   `json:"next_fire_at,omitempty"`
	LastFiredAt  *time.Time   `json:"last_fired_at,omitempty"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
