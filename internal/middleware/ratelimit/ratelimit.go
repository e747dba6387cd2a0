// Package ratelimit provides keyed token bucket rate limiting middleware.
// The general limiter is keyed by client IP, the deploy limiter by API key.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/polybuilder/polybuilder/internal/auth"
	"github.com/polybuilder/polybuilder/internal/middleware/realip"
)

// Config holds the configuration for rate limiting
type Config struct {
	// Enabled enables rate limiting
	Enabled bool
	// Requests is the number of requests allowed per Period per key
	Requests int
	// Period is the refill window; defaults to one minute
	Period time.Duration
	// BurstSize is the maximum burst size; defaults to Requests
	BurstSize int
	// CleanupMinutes is how often to clean up stale entries
	CleanupMinutes int
	// Key extracts the bucket key; defaults to the client IP
	Key func(*http.Request) string
	// Message is returned in the 429 body
	Message string
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-key rate limiters
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	key      func(*http.Request) string
	message  string
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a RateLimiter and starts its cleanup goroutine. Call Stop to
// release it.
func New(cfg Config) *RateLimiter {
	period := cfg.Period
	if period <= 0 {
		period = time.Minute
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = max(cfg.Requests, 1)
	}
	cleanupDuration := time.Duration(cfg.CleanupMinutes) * time.Minute
	if cleanupDuration <= 0 {
		cleanupDuration = 10 * time.Minute
	}
	key := cfg.Key
	if key == nil {
		key = realip.GetClientIP
	}
	message := cfg.Message
	if message == "" {
		message = "Too many requests. Please try again later."
	}

	rl := &RateLimiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(float64(cfg.Requests) / period.Seconds()),
		burst:    burst,
		cleanup:  max(cleanupDuration, period),
		key:      key,
		message:  message,
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.pruneStale()
		case <-rl.stopCh:
			return
		}
	}
}

// pruneStale drops entries not seen within the cleanup window. The window
// is never shorter than the refill period.
func (rl *RateLimiter) pruneStale() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cleanup)
	for k, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, k)
		}
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if e, ok := rl.limiters[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}

	l := rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = &entry{limiter: l, lastSeen: time.Now()}
	return l
}

// healthCheckPaths are exempt from rate limiting
var healthCheckPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
}

// Middleware returns an HTTP middleware that rate limits requests per key
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if healthCheckPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			res := rl.getLimiter(rl.key(r)).Reserve()
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				retry := int(delay.Seconds()) + 1
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("X-Rate-Limit-Exceeded", "true")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    "RATE_LIMIT_EXCEEDED",
						"message": rl.message,
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// noop passes requests through unchanged.
func noop(next http.Handler) http.Handler { return next }

// Middleware returns a rate limiting middleware and a stop function for its
// cleanup goroutine. When disabled both are no-ops.
func Middleware(cfg Config) (func(http.Handler) http.Handler, func()) {
	if !cfg.Enabled || cfg.Requests <= 0 {
		return noop, func() {}
	}
	rl := New(cfg)
	return rl.Middleware(), rl.Stop
}

// DeployKey buckets by authenticated API key, falling back to client IP for
// unauthenticated servers.
func DeployKey(r *http.Request) string {
	if id := auth.GetKeyIDFromContext(r.Context()); id != "" {
		return "key:" + id
	}
	return "ip:" + realip.GetClientIP(r)
}

// DeployMiddleware limits transaction-broadcasting routes to perHour
// requests per API key. It must be mounted after the auth middleware.
func DeployMiddleware(enabled bool, perHour int) (func(http.Handler) http.Handler, func()) {
	return Middleware(Config{
		Enabled:   enabled,
		Requests:  perHour,
		Period:    time.Hour,
		BurstSize: perHour,
		Key:       DeployKey,
		Message:   "Deployment limit reached. Please try again later.",
	})
}
