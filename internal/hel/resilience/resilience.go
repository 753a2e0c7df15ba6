package resilience

import (
	"context"
	"net/http"
	"time"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/herr"
	"github.com/timescale/hel/internal/hel/httpexec"
)

// Wrapper composes the rate limiter, circuit breaker, and retry loop
// around a single source's Executor calls (spec §4.D).
type Wrapper struct {
	spec    config.ResilienceSpec
	exec    httpexec.Doer
	limiter *RateLimiter
	breaker *CircuitBreaker
}

// New builds a Wrapper for one source. exec is usually a live
// *httpexec.Executor; a source running in replay mode (spec §4.K) passes
// its fixture-backed internal/hel/replay.Player instead, since both
// satisfy httpexec.Doer.
func New(spec config.ResilienceSpec, exec httpexec.Doer) *Wrapper {
	return &Wrapper{
		spec:    spec,
		exec:    exec,
		limiter: NewRateLimiter(spec.RateLimit),
		breaker: NewCircuitBreaker(spec.CircuitBreaker),
	}
}

// Do sends req through the rate limiter, circuit breaker, and retry loop,
// returning the first successful Response or the last error.
func (w *Wrapper) Do(ctx context.Context, req httpexec.Request) (*httpexec.Response, error) {
	var resp *httpexec.Response
	var lastHeaders http.Header

	err := retryLoop(ctx, w.spec, w.shouldRetry, func() (time.Duration, bool) {
		return headerRetryDelay(lastHeaders)
	}, func() error {
		if err := w.breaker.Allow(); err != nil {
			return err
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}

		r, doErr := w.exec.Do(ctx, req)
		if doErr != nil {
			w.breaker.RecordFailure()
			return doErr
		}

		lastHeaders = r.Headers
		w.limiter.ObserveHeaders(r.Headers)

		if w.spec.IsRetryableStatus(r.Status) {
			w.breaker.RecordFailure()
			resp = r
			return herr.WithStatus("", r.Status, nil)
		}

		w.breaker.RecordSuccess()
		resp = r
		return nil
	})

	if err != nil {
		return resp, err
	}
	return resp, nil
}

// shouldRetry classifies an error from one attempt as retryable. A tripped
// circuit or a context-deadline error must not be retried within this
// loop; everything else defers to the configured retryable status list
// (applied to HTTPStatus errors) or is retried by default (network
// errors).
func (w *Wrapper) shouldRetry(err error) bool {
	kind, ok := herr.KindOf(err)
	if !ok {
		return true
	}
	switch kind {
	case herr.CircuitOpen, herr.TickDeadlineExceeded, herr.ReplayMiss:
		return false
	default:
		return true
	}
}

// PageDelay sleeps between successive pages when the source configures
// page_delay_secs, or returns immediately if ctx is cancelled first.
func (w *Wrapper) PageDelay(ctx context.Context) error {
	if w.spec.PageDelaySecs <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(w.spec.PageDelaySecs * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CircuitState reports the breaker's current state for health reporting.
func (w *Wrapper) CircuitState() State {
	return w.breaker.CurrentState()
}
