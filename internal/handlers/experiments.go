package handlers

import (
	"net/http"

	"github.com/crucial707/chaos-scheduler/internal/experiments"
	"github.com/crucial707/chaos-scheduler/internal/models"
)

// ==========================
// Experiment Handler
// ==========================
type ExperimentHandler struct {
	Experiments *experiments.Service
	Audit       AuditLogger
}

// ==========================
// Create Experiment
// ==========================
func (h *ExperimentHandler) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	var input models.Experiment
	if !decodeBody(w, r, &input) {
		return
	}

	e, err := h.Experiments.Create(r.Context(), input)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	recordAudit(r, h.Audit, "create", "experiment", e.ID, e.Name)
	writeJSON(w, http.StatusCreated, e)
}

// ==========================
// List Experiments (limit default 50, max 500)
// ==========================
func (h *ExperimentHandler) ListExperiments(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50, 500)
	list, err := h.Experiments.List(r.Context(), limit, offset)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Experiment{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ==========================
// Upcoming Experiments (next fire time ascending)
// ==========================
func (h *ExperimentHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r, 20, 200)
	list, err := h.Experiments.Upcoming(r.Context(), limit)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Experiment{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ==========================
// Get Experiment
// ==========================
func (h *ExperimentHandler) GetExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		JSONError(w, "invalid experiment id", http.StatusBadRequest)
		return
	}
	e, err := h.Experiments.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// ==========================
// Delete Experiment
// ==========================
func (h *ExperimentHandler) DeleteExperiment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		JSONError(w, "invalid experiment id", http.StatusBadRequest)
		return
	}
	if err := h.Experiments.Delete(r.Context(), id); err != nil {
		writeEngineError(w, r, err)
		return
	}
	recordAudit(r, h.Audit, "delete", "experiment", id, "")
	w.WriteHeader(http.StatusNoContent)
}
