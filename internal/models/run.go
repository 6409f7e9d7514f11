package models

import "time"

// RunStatus is the terminal outcome of one execution.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailure RunStatus = "failure"
)

// RunRecord is one immutable audit entry for an executed action.
// ExperimentID is nil for ad-hoc runs. Error is set iff Status is failure.
type RunRecord struct {
	ID           int64      `json:"id"`
	TriggerID    string     `json:"trigger_id"`
	ExperimentID *int       `json:"experiment_id,omitempty"`
	TargetID     int        `json:"target_id"`
	TargetName   string     `json:"target_name"`
	TargetType   TargetType `json:"target_type"`
	Action       Action     `json:"action"`
	Status       RunStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	Detail       string     `json:"detail,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  time.Time  `json:"completed_at"`
}

// RunFilter narrows a run log query. Zero values match everything.
type RunFilter struct {
	ExperimentID *int
	TargetID     *int
	Status       RunStatus
	Action       Action
	Since        *time.Time
	Until        *time.Time
}

// Match reports whether rec satisfies the filter.
func (f RunFilter) Match(rec *RunRecord) bool {
	if f.ExperimentID != nil && (rec.ExperimentID == nil || *rec.ExperimentID != *f.ExperimentID) {
		return false
	}
	if f.TargetID != nil && rec.TargetID != *f.TargetID {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.Since != nil && rec.StartedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && rec.StartedAt.After(*f.Until) {
		return false
	}
	return true
}

// RunTally is a grouped count of run records.
type RunTally struct {
	TargetType TargetType `json:"target_type"`
	Action     Action     `json:"action"`
	Status     RunStatus  `json:"status"`
	Count      int        `json:"count"`
}

// DailyTally counts runs per UTC day and status.
type DailyTally struct {
	Day    time.Time `json:"day"`
	Status RunStatus `json:"status"`
	Count  int       `json:"count"`
}
