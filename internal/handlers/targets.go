package handlers

import (
	"errors"
	"net/http"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/executor"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/crucial707/chaos-scheduler/internal/registry"
	"github.com/go-chi/chi/v5"
)

// ==========================
// Target Handler
// ==========================
type TargetHandler struct {
	Registry *registry.Registry
	Executor *executor.Executor
	Audit    AuditLogger
}

// ==========================
// Register Target
// ==========================
func (h *TargetHandler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var input models.Target
	if !decodeBody(w, r, &input) {
		return
	}

	t, err := h.Registry.Register(r.Context(), input)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	recordAudit(r, h.Audit, "create", "target", t.ID, t.Name)
	writeJSON(w, http.StatusCreated, t)
}

// ==========================
// Discover Containers on a runtime host
// ==========================
type discoverRequest struct {
	Endpoint      string `json:"endpoint"`
	TLS           bool   `json:"tls"`
	CredentialRef string `json:"credential_ref"`
}

func (h *TargetHandler) DiscoverTargets(w http.ResponseWriter, r *http.Request) {
	var input discoverRequest
	if !decodeBody(w, r, &input) {
		return
	}

	d, err := h.Registry.Discover(r.Context(), models.ContainerConn{
		Endpoint:      input.Endpoint,
		TLS:           input.TLS,
		CredentialRef: input.CredentialRef,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	for _, t := range d.Registered {
		recordAudit(r, h.Audit, "discover", "target", t.ID, t.Name+" on "+d.Endpoint)
	}
	writeJSON(w, http.StatusOK, d)
}

// ==========================
// List Targets (limit default 50, max 500)
// ==========================
func (h *TargetHandler) ListTargets(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50, 500)
	targets, err := h.Registry.List(r.Context(), limit, offset)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if targets == nil {
		targets = []models.Target{}
	}
	writeJSON(w, http.StatusOK, targets)
}

// ==========================
// Get Target
// ==========================
func (h *TargetHandler) GetTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		JSONError(w, "invalid target id", http.StatusBadRequest)
		return
	}
	t, err := h.Registry.Resolve(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ==========================
// Delete Target (409 while experiments reference it)
// ==========================
func (h *TargetHandler) DeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		JSONError(w, "invalid target id", http.StatusBadRequest)
		return
	}
	if err := h.Registry.Delete(r.Context(), id); err != nil {
		writeEngineError(w, r, err)
		return
	}
	recordAudit(r, h.Audit, "delete", "target", id, "")
	w.WriteHeader(http.StatusNoContent)
}

// ==========================
// Check Status (probe now)
// ==========================
func (h *TargetHandler) CheckTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		JSONError(w, "invalid target id", http.StatusBadRequest)
		return
	}
	status, err := h.Registry.CheckStatus(r.Context(), id)
	if err != nil && chaoserr.KindOf(err) == chaoserr.KindProbe {
		// The status was still recorded; report it next to the cause.
		msg := publicMessage(err)
		var cause *chaoserr.Error
		if errors.As(errors.Unwrap(err), &cause) {
			msg = publicMessage(cause)
		}
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"id":     id,
			"status": status,
			"error":  msg,
		})
		return
	}
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "status": status})
}

// ==========================
// Run Action (ad-hoc, bypasses the scheduler)
// ==========================
func (h *TargetHandler) RunAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		JSONError(w, "invalid target id", http.StatusBadRequest)
		return
	}
	action := models.Action(chi.URLParam(r, "action"))
	if !action.Valid() {
		JSONValidationError(w, "validation failed", map[string]string{"action": "must be stop, start or restart"}, http.StatusBadRequest)
		return
	}

	t, err := h.Registry.Resolve(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	rec, err := h.Executor.Execute(r.Context(), executor.Request{Target: t, Action: action})
	if rec != nil {
		recordAudit(r, h.Audit, "trigger", "target", id, string(action)+" "+rec.TriggerID)
	}
	if err != nil {
		if rec == nil || chaoserr.KindOf(err) == chaoserr.KindPersistence {
			writeEngineError(w, r, err)
			return
		}
		writeJSON(w, StatusForKind(chaoserr.KindOf(err)), map[string]interface{}{
			"error": publicMessage(err),
			"run":   rec,
		})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
