package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// ErrMessageInternal is the generic message for 500 responses. Do not expose internal details to clients.
const ErrMessageInternal = "internal server error"

// JSONError sends a JSON error response with a single "error" field.
func JSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// JSONValidationError sends a JSON error response with "error" and optional "fields" for field-level details.
// status is typically http.StatusBadRequest (400).
func JSONValidationError(w http.ResponseWriter, message string, fields map[string]string, status int) {
	out := map[string]interface{}{"error": message}
	if len(fields) > 0 {
		out["fields"] = fields
	}
	writeJSON(w, status, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusForKind maps an engine error kind to an HTTP status.
func StatusForKind(k chaoserr.Kind) int {
	switch k {
	case chaoserr.KindValidation:
		return http.StatusBadRequest
	case chaoserr.KindNotFound:
		return http.StatusNotFound
	case chaoserr.KindConflict:
		return http.StatusConflict
	case chaoserr.KindTargetUnreachable, chaoserr.KindTimeout, chaoserr.KindAuthentication,
		chaoserr.KindActionRejected, chaoserr.KindProbe:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// publicMessage is the client-facing text for an engine error: the kind plus its own message.
func publicMessage(err error) string {
	var e *chaoserr.Error
	if !errors.As(err, &e) {
		return ErrMessageInternal
	}
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// writeEngineError writes err with the status its kind maps to. Server-side
// failures are logged; persistence failures are logged as alerts.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := chaoserr.KindOf(err)
	status := StatusForKind(kind)
	switch {
	case kind == chaoserr.KindValidation:
		JSONValidationError(w, "validation failed", chaoserr.FieldsOf(err), status)
		return
	case kind == chaoserr.KindPersistence:
		slog.Error("persistence failure", "alert", true, "request_id", chimw.GetReqID(r.Context()), "err", err)
		JSONError(w, ErrMessageInternal, status)
		return
	case status == http.StatusInternalServerError:
		slog.Error("request failed", "request_id", chimw.GetReqID(r.Context()), "err", err)
		JSONError(w, ErrMessageInternal, status)
		return
	}
	JSONError(w, publicMessage(err), status)
}
