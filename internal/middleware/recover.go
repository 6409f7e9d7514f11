package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/crucial707/chaos-scheduler/internal/metrics"
)

// Recoverer turns a handler panic into a 500 carrying the request ID so an
// operator can find the stack in the logs. http.ErrAbortHandler is re-raised.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			reqID := chimw.GetReqID(r.Context())
			metrics.HandlerPanics.WithLabelValues(metrics.NormalizePath(r.URL.Path)).Inc()
			slog.Error("handler panic",
				"alert", true,
				"request_id", reqID,
				"user_id", GetUserID(r.Context()),
				"route", r.Method+" "+r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()))

			body := map[string]string{"error": "internal server error"}
			if reqID != "" {
				body["request_id"] = reqID
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(body)
		}()
		next.ServeHTTP(w, r)
	})
}
