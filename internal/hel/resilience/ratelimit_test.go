package resilience_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/resilience"
)

func TestRateLimiter_DisabledWhenZero(t *testing.T) {
	rl := resilience.NewRateLimiter(config.RateLimitSpec{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait #%d: unexpected error: %v", i, err)
		}
	}
}

func TestRateLimiter_LimitsBurst(t *testing.T) {
	rl := resilience.NewRateLimiter(config.RateLimitSpec{MaxRequestsPerSecond: 1000, BurstSize: 1})
	ctx := context.Background()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait #1: unexpected error: %v", err)
	}

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait #2: unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed <= 0 {
		t.Error("expected second Wait to block at least briefly with burst=1")
	}
}

func TestRateLimiter_NonAdaptiveIgnoresHeaders(t *testing.T) {
	rl := resilience.NewRateLimiter(config.RateLimitSpec{MaxRequestsPerSecond: 1000, BurstSize: 10, Adaptive: false})
	h := http.Header{}
	h.Set("Retry-After", "10")
	rl.ObserveHeaders(h)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Errorf("Wait: expected no stall since adaptive=false, got error: %v", err)
	}
}

func TestRateLimiter_AdaptiveRetryAfterStalls(t *testing.T) {
	rl := resilience.NewRateLimiter(config.RateLimitSpec{MaxRequestsPerSecond: 1000, BurstSize: 10, Adaptive: true})
	h := http.Header{}
	h.Set("Retry-After", "1")
	rl.ObserveHeaders(h)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait: expected context deadline error while stalled for Retry-After")
	}
}

func TestRateLimiter_AdaptiveRetryAfterHTTPDateStalls(t *testing.T) {
	rl := resilience.NewRateLimiter(config.RateLimitSpec{MaxRequestsPerSecond: 1000, BurstSize: 10, Adaptive: true})
	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(time.Second).UTC().Format(http.TimeFormat))
	rl.ObserveHeaders(h)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("Wait: expected context deadline error while stalled for an HTTP-date Retry-After")
	}
}
