package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/crucial707/chaos-scheduler/internal/metrics"
)

func TestRecoverer(t *testing.T) {
	before := testutil.ToFloat64(metrics.HandlerPanics.WithLabelValues("/targets/{id}/check"))
	h := chimw.RequestID(Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/targets/9/check", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "internal server error" || body["request_id"] == "" {
		t.Errorf("body: %v", body)
	}
	after := testutil.ToFloat64(metrics.HandlerPanics.WithLabelValues("/targets/{id}/check"))
	if after != before+1 {
		t.Errorf("panic counter: got %v, want %v", after, before+1)
	}
}

func TestRecoverer_AbortHandler(t *testing.T) {
	h := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}
