package scheduler

import "context"

// semaphore is a buffered-channel counting semaphore bounding the
// bulkhead.max_concurrent_sources and bulkhead.max_concurrent_requests
// limits (spec §4.J, §5). A zero-size semaphore never blocks: it models
// "unlimited" the same way the rest of the config treats a zero knob as
// off.
type semaphore chan struct{}

func newSemaphore(n int) semaphore {
	if n <= 0 {
		return nil
	}
	return make(semaphore, n)
}

// acquire blocks until a slot is free or ctx is cancelled. A nil semaphore
// (unlimited) always succeeds immediately.
func (s semaphore) acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release frees a slot. A no-op on a nil (unlimited) semaphore.
func (s semaphore) release() {
	if s == nil {
		return
	}
	<-s
}
