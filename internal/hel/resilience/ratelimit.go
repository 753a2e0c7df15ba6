package resilience

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/timescale/hel/internal/hel/config"
)

// RateLimiter wraps golang.org/x/time/rate's token bucket with the
// header-driven overrides spec §4.D calls for: a server's Retry-After or
// X-RateLimit-Reset/Remaining headers can stall the bucket beyond what the
// configured rate alone would produce.
type RateLimiter struct {
	limiter  *rate.Limiter
	adaptive bool

	mu        sync.Mutex
	stallUntil time.Time
}

// NewRateLimiter builds a limiter from a source's RateLimitSpec. A zero
// MaxRequestsPerSecond disables limiting (an always-ready limiter).
func NewRateLimiter(spec config.RateLimitSpec) *RateLimiter {
	if spec.MaxRequestsPerSecond <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	burst := spec.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiter:  rate.NewLimiter(rate.Limit(spec.MaxRequestsPerSecond), burst),
		adaptive: spec.Adaptive,
	}
}

// Wait blocks until a token is available, respecting any header-driven
// stall registered by ObserveHeaders.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	stallUntil := r.stallUntil
	r.mu.Unlock()

	if wait := time.Until(stallUntil); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.limiter.Wait(ctx)
}

// ObserveHeaders inspects a response's Retry-After and rate-limit headers
// and, when adaptive limiting is enabled, stalls future Wait calls until
// the server-advertised reset time (spec §4.D: "adaptive: stall when
// remaining<=1").
func (r *RateLimiter) ObserveHeaders(h http.Header) {
	if !r.adaptive {
		return
	}

	if d, ok := parseRetryAfter(h.Get("Retry-After")); ok {
		r.stallUntilAfter(d)
		return
	}

	remaining := h.Get("X-RateLimit-Remaining")
	reset := h.Get("X-RateLimit-Reset")
	if remaining == "" || reset == "" {
		return
	}
	remainingN, err1 := strconv.Atoi(remaining)
	resetN, err2 := strconv.ParseInt(reset, 10, 64)
	if err1 != nil || err2 != nil || remainingN > 1 {
		return
	}

	resetAt := time.Unix(resetN, 0)
	r.mu.Lock()
	if resetAt.After(r.stallUntil) {
		r.stallUntil = resetAt
	}
	r.mu.Unlock()
}

func (r *RateLimiter) stallUntilAfter(d time.Duration) {
	until := time.Now().Add(d)
	r.mu.Lock()
	if until.After(r.stallUntil) {
		r.stallUntil = until
	}
	r.mu.Unlock()
}
