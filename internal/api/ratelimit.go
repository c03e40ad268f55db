package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CallerRateLimiter keeps one token bucket per authenticated caller.
type CallerRateLimiter struct {
	callers map[string]*visitor
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewCallerRateLimiter creates a limiter allowing rps requests per second
// with the given burst per caller.
func NewCallerRateLimiter(rps float64, burst int) *CallerRateLimiter {
	return &CallerRateLimiter{
		callers: make(map[string]*visitor),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

func (rl *CallerRateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.callers[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.callers[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup removes callers idle for longer than 3 minutes, every minute, until ctx ends.
func (rl *CallerRateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evict(3 * time.Minute)
		}
	}
}

func (rl *CallerRateLimiter) evict(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.callers {
		if time.Since(v.lastSeen) > idle {
			delete(rl.callers, key)
		}
	}
}

// Middleware enforces the limit. It must run after the auth middleware.
func (rl *CallerRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.RemoteAddr
		if caller, ok := CallerFrom(r.Context()); ok {
			key = caller.Hex()
		}

		if !rl.limiter(key).Allow() {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests", true)
			return
		}
		next.ServeHTTP(w, r)
	})
}
