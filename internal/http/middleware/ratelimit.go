package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterCleanupEvery = 5 * time.Minute
	limiterMaxIdle      = 10 * time.Minute
)

// callerEntry tracks one caller's limiter and when it was last used.
type callerEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// CallerRateLimiter rate-limits by caller IP. It guards the initiation
// endpoints: a runaway orders service must not fan out into hundreds of
// simultaneous carrier calls.
type CallerRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*callerEntry
	rate    rate.Limit
	burst   int
}

// NewCallerRateLimiter creates a per-IP limiter allowing ratePerSec requests
// per second with the given burst, and starts background eviction of idle
// entries.
func NewCallerRateLimiter(ratePerSec float64, burst int) *CallerRateLimiter {
	rl := &CallerRateLimiter{
		entries: make(map[string]*callerEntry),
		rate:    rate.Limit(ratePerSec),
		burst:   burst,
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from the given IP is within its limit.
func (rl *CallerRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[ip]
	if !ok {
		entry = &callerEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.entries[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

func (rl *CallerRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupEvery)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-limiterMaxIdle)
		for ip, entry := range rl.entries {
			if entry.lastSeen.Before(cutoff) {
				delete(rl.entries, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit returns middleware that rejects over-limit requests with 429 and
// a machine-readable body matching the error shape of the initiation
// handlers.
func RateLimit(ratePerSec float64, burst int) func(http.Handler) http.Handler {
	limiter := NewCallerRateLimiter(ratePerSec, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(extractIP(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractIP strips the port from RemoteAddr. The chi RealIP middleware runs
// earlier and rewrites RemoteAddr from X-Forwarded-For / X-Real-IP when the
// server sits behind a proxy.
func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
