package models

import "time"

// AuditEntry records an operator mutation (who registered, deleted or triggered what).
// Execution outcomes live in RunRecord, not here.
type AuditEntry struct {
	ID           int       `json:"id"`
	UserID       int       `json:"user_id"`
	Action       string    `json:"action"`        // create, delete, trigger
	ResourceType string    `json:"resource_type"` // target, experiment
	ResourceID   int       `json:"resource_id"`
	Details      string    `json:"details,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
