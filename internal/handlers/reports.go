package handlers

import (
	"net/http"
	"strconv"

	"github.com/crucial707/chaos-scheduler/internal/experiments"
	"github.com/crucial707/chaos-scheduler/internal/registry"
	"github.com/crucial707/chaos-scheduler/internal/runlog"
)

// ReportHandler serves dashboard aggregates.
type ReportHandler struct {
	Registry    *registry.Registry
	Experiments *experiments.Service
	Log         *runlog.Log
}

// Stats returns target and experiment counts plus the run total.
func (h *ReportHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	byType, err := h.Registry.Counts(ctx)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	total, active, err := h.Experiments.Counts(ctx)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	runs, err := h.Log.Count(ctx)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	targets := 0
	types := make(map[string]int, len(byType))
	for t, n := range byType {
		targets += n
		types[string(t)] = n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"targets":          targets,
		"targets_by_type":  types,
		"experiments":      total,
		"experiments_live": active,
		"runs":             runs,
		"runs_unpersisted": h.Log.Pending(),
	})
}

// Summary returns run totals and success rate.
func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.Log.Summary(r.Context())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// History returns per-day success and failure counts. Query: days (default 7, 1..90).
func (h *ReportHandler) History(w http.ResponseWriter, r *http.Request) {
	days := 7
	if d := r.URL.Query().Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil {
			JSONValidationError(w, "validation failed", map[string]string{"days": "must be an integer"}, http.StatusBadRequest)
			return
		}
		days = n
	}
	out, err := h.Log.History(r.Context(), days)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
