package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/timescale/hel/internal/hel/config"
)

// retryLoop runs fn up to spec.MaxAttempts times with exponential backoff,
// honoring BackoffMultiplier and JitterFraction. It is adapted from the
// teacher's common/retry.Do: same context-check/select-on-timer/shouldRetry
// shape, extended with the multiplier and jitter knobs spec §4.D exposes
// that the teacher's fixed-doubling retry.Do does not have.
//
// When spec.RespectHeaders is set, headerDelay is consulted after a failed
// attempt and, if it reports an override, replaces the computed backoff
// wait outright (spec §4.D step 3: Retry-After or reset-now wins over the
// configured backoff curve). headerDelay may be nil, meaning no override is
// ever available.
func retryLoop(ctx context.Context, spec config.ResilienceSpec, shouldRetry func(err error) bool, headerDelay func() (time.Duration, bool), fn func() error) error {
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	initial := time.Duration(spec.InitialBackoffMillis) * time.Millisecond
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maxDelay := time.Duration(spec.MaxBackoffMillis) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	multiplier := spec.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	delay := initial
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if shouldRetry != nil && !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < maxAttempts {
			wait := jittered(delay, spec.JitterFraction)
			overridden := false
			if spec.RespectHeaders && headerDelay != nil {
				if d, ok := headerDelay(); ok {
					wait = d
					overridden = true
				}
			}
			slog.Debug("resilience: attempt failed, retrying",
				"attempt", attempt, "max", maxAttempts, "err", lastErr, "delay", wait,
				"header_override", overridden)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}

			delay = time.Duration(float64(delay) * multiplier)
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}

	return lastErr
}

func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	if fraction > 1 {
		fraction = 1
	}
	spread := float64(d) * fraction
	offset := (rand.Float64()*2 - 1) * spread
	jittered := time.Duration(float64(d) + offset)
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}
