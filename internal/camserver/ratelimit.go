package camserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateLimiter is a fixed-window request limiter matching the camera
// firmware's behavior: over-limit requests get a 429 with a Retry-After
// hint rather than being queued.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu          sync.Mutex
	windowStart time.Time
	count       int
	now         func() time.Time
}

// newRateLimiter allows limit requests per window. A limit of zero disables
// limiting.
func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window, now: time.Now}
}

// allow consumes one request slot. When the window is exhausted it returns
// false plus the time until the window resets.
func (rl *rateLimiter) allow() (bool, time.Duration) {
	if rl.limit <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.windowStart) >= rl.window {
		rl.windowStart = now
		rl.count = 0
	}
	if rl.count >= rl.limit {
		return false, rl.window - now.Sub(rl.windowStart)
	}
	rl.count++
	return true, 0
}

// middleware rejects over-limit requests with 429 before they reach the
// handlers. The health endpoint is exempt so reachability probes stay cheap
// and honest.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		ok, retryAfter := rl.allow()
		if !ok {
			secs := int(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
