package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiter_ByIP(t *testing.T) {
	l := PerMinute(1, 2, nil)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(remote string) *httptest.ResponseRecorder {
		r := httptest.NewRequest("POST", "/targets/1/actions/stop", nil)
		r.RemoteAddr = remote
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		return rr
	}

	// Same IP on different source ports shares a bucket.
	if do("10.0.0.1:5000").Code != http.StatusOK || do("10.0.0.1:5001").Code != http.StatusOK {
		t.Fatal("burst should be allowed")
	}
	rr := do("10.0.0.1:5002")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: got %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if do("10.0.0.2:5000").Code != http.StatusOK {
		t.Error("other clients must not be limited")
	}
}

func TestRateLimiter_ByUser(t *testing.T) {
	l := PerMinute(1, 1, UserOrIP)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(userID int) int {
		r := httptest.NewRequest("POST", "/targets/1/actions/restart", nil)
		r.RemoteAddr = "10.0.0.1:4000"
		r = r.WithContext(context.WithValue(r.Context(), UserIDKey, userID))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		return rr.Code
	}
	if do(1) != http.StatusOK || do(2) != http.StatusOK {
		t.Fatal("distinct operators behind one IP get their own buckets")
	}
	if do(1) != http.StatusTooManyRequests {
		t.Error("second request from operator 1 should be limited")
	}
}

func TestActionRateLimiterBurst(t *testing.T) {
	if l := ActionRateLimiter(5); l.burst != 1 {
		t.Errorf("burst for 5/min: got %d, want 1", l.burst)
	}
	if l := ActionRateLimiter(120); l.burst != 12 {
		t.Errorf("burst for 120/min: got %d, want 12", l.burst)
	}
}
