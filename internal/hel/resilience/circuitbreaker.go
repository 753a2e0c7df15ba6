package resilience

import (
	"sync"
	"time"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/herr"
)

// State is one of the three circuit breaker states (spec §4.D).
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// CircuitBreaker tracks a source's recent success/failure history and
// trips open once failures cross the configured threshold, shedding load
// until a half-open probe succeeds enough times to close again.
type CircuitBreaker struct {
	spec config.CircuitBreakerSpec

	mu             sync.Mutex
	state          State
	consecutiveErr int
	requests       int
	failures       int
	openedAt       time.Time
	halfOpenOK     int
}

// NewCircuitBreaker builds a closed breaker from spec.
func NewCircuitBreaker(spec config.CircuitBreakerSpec) *CircuitBreaker {
	return &CircuitBreaker{spec: spec, state: StateClosed}
}

// Allow reports whether a request may proceed. An open breaker rejects
// requests until its open duration has elapsed, at which point it
// transitions to half_open and allows a single probe through.
func (c *CircuitBreaker) Allow() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		return nil
	case StateOpen:
		if time.Since(c.openedAt) >= c.openDuration() {
			c.state = StateHalfOpen
			c.halfOpenOK = 0
			return nil
		}
		return herr.New(herr.CircuitOpen, "", nil)
	}
	return nil
}

// RecordSuccess reports a successful attempt.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveErr = 0
	c.requests++

	switch c.state {
	case StateHalfOpen:
		c.halfOpenOK++
		threshold := c.spec.SuccessThreshold
		if threshold <= 0 {
			threshold = 1
		}
		if c.halfOpenOK >= threshold {
			c.reset()
		}
	case StateClosed:
		if c.requests >= c.minimumRequests() {
			c.requests = 0
			c.failures = 0
		}
	}
}

// RecordFailure reports a failed attempt and trips the breaker if the
// failure threshold or failure rate threshold is crossed.
func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveErr++
	c.requests++
	c.failures++

	if c.state == StateHalfOpen {
		c.trip()
		return
	}

	if c.spec.FailureThreshold > 0 && c.consecutiveErr >= c.spec.FailureThreshold {
		c.trip()
		return
	}

	if c.spec.FailureRateThreshold > 0 && c.requests >= c.minimumRequests() {
		rate := float64(c.failures) / float64(c.requests)
		if rate >= c.spec.FailureRateThreshold {
			c.trip()
		}
	}
}

// openDuration is how long the breaker stays open before allowing a
// half-open probe: min(HalfOpenTimeoutSecs, ResetTimeoutSecs or infinite)
// (spec §4.D step 2). HalfOpenTimeoutSecs defaults to 30s when unset;
// ResetTimeoutSecs, when unset, imposes no cap of its own.
func (c *CircuitBreaker) openDuration() time.Duration {
	halfOpen := time.Duration(c.spec.HalfOpenTimeoutSecs) * time.Second
	if halfOpen <= 0 {
		halfOpen = 30 * time.Second
	}
	if c.spec.ResetTimeoutSecs <= 0 {
		return halfOpen
	}
	reset := time.Duration(c.spec.ResetTimeoutSecs) * time.Second
	if reset < halfOpen {
		return reset
	}
	return halfOpen
}

func (c *CircuitBreaker) minimumRequests() int {
	if c.spec.MinimumRequests > 0 {
		return c.spec.MinimumRequests
	}
	return 1
}

func (c *CircuitBreaker) trip() {
	c.state = StateOpen
	c.openedAt = time.Now()
}

func (c *CircuitBreaker) reset() {
	c.state = StateClosed
	c.consecutiveErr = 0
	c.requests = 0
	c.failures = 0
	c.halfOpenOK = 0
}

// CurrentState returns the breaker's current state, for health reporting.
func (c *CircuitBreaker) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
