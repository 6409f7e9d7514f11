package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(r *http.Request) string

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	buckets map[string]*rate.Limiter
	mu      sync.RWMutex
	limit   rate.Limit
	burst   int
	key     KeyFunc
}

// NewRateLimiter creates a keyed limiter. limit is events per second; for N per
// minute use rate.Limit(float64(N)/60.0). A nil key charges the client IP.
func NewRateLimiter(limit rate.Limit, burst int, key KeyFunc) *RateLimiter {
	if key == nil {
		key = ClientIP
	}
	return &RateLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   limit,
		burst:   burst,
		key:     key,
	}
}

func (l *RateLimiter) bucket(k string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.buckets[k]
	l.mu.RUnlock()
	if ok {
		return lim
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.buckets[k]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.limit, l.burst)
	l.buckets[k] = lim
	return lim
}

// ClientIP returns the client IP from X-Forwarded-For, X-Real-IP, or RemoteAddr without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First value is the client when behind a single proxy
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// UserOrIP charges the authenticated user when JWTMiddleware ran first, the client IP otherwise.
func UserOrIP(r *http.Request) string {
	if id := GetUserID(r.Context()); id != 0 {
		return "user:" + strconv.Itoa(id)
	}
	return "ip:" + ClientIP(r)
}

// Middleware returns 429 with Retry-After once the request's bucket is empty.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.bucket(l.key(r)).Allow() {
			w.Header().Set("Retry-After", "60")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthRateLimiter returns a limiter suitable for login/register: 10 requests per minute per IP, burst 5.
func AuthRateLimiter() *RateLimiter {
	return PerMinute(10, 5, ClientIP)
}

// ActionRateLimiter limits ad-hoc chaos actions to perMinute per operator. The
// burst is kept small so a script cannot fire a volley of restarts at once.
func ActionRateLimiter(perMinute int) *RateLimiter {
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	return PerMinute(perMinute, burst, UserOrIP)
}

// PerMinute builds a limiter allowing n requests per minute per key.
func PerMinute(n, burst int, key KeyFunc) *RateLimiter {
	return NewRateLimiter(rate.Limit(float64(n)/60.0), burst, key)
}
