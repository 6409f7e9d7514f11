package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/crucial707/chaos-scheduler/internal/middleware"
	"github.com/crucial707/chaos-scheduler/internal/models"
)

// AuditLogger records who changed what.
type AuditLogger interface {
	Log(ctx context.Context, userID int, action, resourceType string, resourceID int, details string) error
}

// AuditStore is an AuditLogger that can also be listed.
type AuditStore interface {
	AuditLogger
	List(ctx context.Context, resourceType string, limit, offset int) ([]models.AuditEntry, error)
}

// recordAudit writes an audit entry for the authenticated user. Failures are
// logged and do not fail the request; the mutation already happened.
func recordAudit(r *http.Request, audit AuditLogger, action, resourceType string, resourceID int, details string) {
	if audit == nil {
		return
	}
	userID := middleware.GetUserID(r.Context())
	if err := audit.Log(context.WithoutCancel(r.Context()), userID, action, resourceType, resourceID, details); err != nil {
		slog.Warn("audit log write failed", "action", action, "resource_type", resourceType, "resource_id", resourceID, "err", err)
	}
}

// AuditHandler serves audit log endpoints.
type AuditHandler struct {
	Store AuditStore
}

// ListAudit returns recent audit log entries, newest first.
// Query: resource_type (target or experiment), limit (default 50, max 200), offset.
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50, 200)
	resourceType := r.URL.Query().Get("resource_type")
	if resourceType != "" && resourceType != "target" && resourceType != "experiment" {
		JSONValidationError(w, "validation failed", map[string]string{"resource_type": "must be target or experiment"}, http.StatusBadRequest)
		return
	}

	entries, err := h.Store.List(r.Context(), resourceType, limit, offset)
	if err != nil {
		slog.Error("list audit failed", "err", err)
		JSONError(w, ErrMessageInternal, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
