// Package scheduler runs the concurrency and cadence model spec §4.J and
// §5 describe: one goroutine per active source tick, a bulkhead bounding
// how many run at once, load shedding under sink backpressure, and a
// SIGHUP-driven config reload that swaps the live source set atomically
// between ticks.
//
// Grounded on the teacher's internal/ruriko/app.App: New builds every
// collaborator up front and Run blocks until told to stop, the same shape
// as App.New/App.Run/App.Stop, generalized from one Matrix client to N
// concurrently-scheduled poll sources.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/sink"
	"github.com/timescale/hel/internal/hel/statestore"
)

var errNoConfig = errors.New("scheduler: no config applied")

// Deps wires the Scheduler's process-wide collaborators: one shared
// statestore.Store and one shared sink.Sink for every source, plus the
// config.Loader the Scheduler rereads on reload.
type Deps struct {
	Loader *config.Loader
	Store  statestore.Store
	Sink   *sink.Sink
	Logger *slog.Logger
}

// Scheduler runs every configured source on its own jittered cadence,
// enforcing the bulkhead and backpressure limits from global config.
type Scheduler struct {
	deps   Deps
	logger *slog.Logger

	mu         sync.Mutex
	global     config.GlobalConfig
	sourceSem  semaphore
	requestSem semaphore
	runners    map[string]*sourceRunner
	wg         sync.WaitGroup
}

// New builds a Scheduler. deps.Loader must already carry a validated
// config (see config.Loader.Apply); Run starts every source it lists.
func New(deps Deps) *Scheduler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Scheduler{
		deps:    deps,
		logger:  deps.Logger,
		runners: map[string]*sourceRunner{},
	}
}

// Run starts every configured source and blocks until ctx is cancelled.
// It then cancels every source's context at once, so an in-flight tick is
// aborted rather than left to finish, and waits up to global.shutdown's
// grace period for the source loops to exit before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	cfg := s.deps.Loader.Config()
	if cfg == nil {
		return errNoConfig
	}

	s.mu.Lock()
	s.global = cfg.Global
	s.sourceSem = newSemaphore(cfg.Global.Bulkhead.MaxConcurrentSources)
	s.requestSem = newSemaphore(cfg.Global.Bulkhead.MaxConcurrentRequests)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, id := range cfg.SortedSourceIDs() {
		if err := s.startSource(runCtx, cfg.Sources[id]); err != nil {
			s.logger.Error("scheduler: failed to start source", "source", id, "error", err)
		}
	}

	<-ctx.Done()
	s.logger.Info("scheduler: shutting down", "grace_period", s.global.GracePeriod())
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.global.GracePeriod()):
		s.logger.Warn("scheduler: grace period elapsed with ticks still running")
	}
	return nil
}

// startSource builds the runner for source and launches its tick loop.
// Callers must hold no lock; startSource takes s.mu itself.
func (s *Scheduler) startSource(ctx context.Context, source *config.Source) error {
	s.mu.Lock()
	requestSem := s.requestSem
	emitWithoutCheckpoint := s.global.Degradation.EmitWithoutCheckpoint
	rs := replaySpec{Mode: s.global.Replay.Mode, Dir: s.global.Replay.Dir}
	s.mu.Unlock()

	runner, err := buildSourceRunner(source, s.deps.Store, s.deps.Sink, requestSem, emitWithoutCheckpoint, rs, s.logger)
	if err != nil {
		return err
	}

	runnerCtx, cancel := context.WithCancel(ctx)
	runner.cancel = cancel
	runner.done = make(chan struct{})

	s.mu.Lock()
	s.runners[source.ID] = runner
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runLoop(runnerCtx, runner)
	return nil
}

// stopSource cancels a running source's loop and waits for it to exit,
// used both by reload (a source removed from the live config) and by
// restart_sources_on_sighup (a source rebuilt from scratch).
func (s *Scheduler) stopSource(id string) {
	s.mu.Lock()
	runner, ok := s.runners[id]
	if ok {
		delete(s.runners, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	runner.cancel()
	<-runner.done
}

// runLoop is the per-source cadence: wait for the jittered first fire,
// run a tick, then wait for the jittered next fire computed from when
// this tick started (spec §4.J).
func (s *Scheduler) runLoop(ctx context.Context, runner *sourceRunner) {
	defer s.wg.Done()
	defer close(runner.done)

	timer := time.NewTimer(firstFireDelay(runner.source.Schedule))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		s.runOneTick(ctx, runner)

		target := start.Add(nextFireDelay(runner.source.Schedule))
		wait := time.Until(target)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// runOneTick enforces the source bulkhead and load shedding, then
// delegates to the Ticker.
func (s *Scheduler) runOneTick(ctx context.Context, runner *sourceRunner) {
	s.mu.Lock()
	sourceSem := s.sourceSem
	s.mu.Unlock()

	if err := sourceSem.acquire(ctx); err != nil {
		return
	}
	defer sourceSem.release()

	if s.shouldShed(runner.source) {
		s.logger.Warn("scheduler: shedding tick under backpressure", "source", runner.source.ID, "priority", runner.source.Priority)
		return
	}

	outcome, err := runner.ticker.Run(ctx)
	runner.recordOutcome(outcome, err)
	if err != nil {
		s.logger.Error("tick failed", "source", runner.source.ID, "error", err)
		return
	}
	s.logger.Info("tick complete", "source", runner.source.ID,
		"pages", outcome.PagesFetched, "emitted", outcome.EventsEmitted, "deduped", outcome.EventsDeduped)
}

// shouldShed reports whether this tick should be skipped under output
// backpressure (spec §4.J): sources below skip_priority_below are
// dropped while the sink queue is at or above 75% of capacity, and
// resume once it drains below that mark.
func (s *Scheduler) shouldShed(source *config.Source) bool {
	s.mu.Lock()
	threshold := s.global.Backpressure.SkipPriorityBelow
	s.mu.Unlock()

	if threshold <= 0 || source.Priority >= threshold {
		return false
	}
	stats := s.deps.Sink.Stats()
	capacity := s.deps.Sink.Capacity()
	if capacity <= 0 {
		return false
	}
	return float64(stats.Queued) >= 0.75*float64(capacity)
}

// DumpStats logs a snapshot of every source's last tick outcome, for
// global.dump_on_sigusr1 (spec §4.J): operators can request an
// immediate status dump without waiting on the health endpoint.
func (s *Scheduler) DumpStats() {
	for _, snap := range s.Snapshot() {
		s.logger.Info("scheduler: source snapshot",
			"source", snap.SourceID, "last_run", snap.LastRunAt, "circuit", snap.CircuitState,
			"emitted", snap.LastOutcome.EventsEmitted, "deduped", snap.LastOutcome.EventsDeduped,
			"error", snap.LastError)
	}
}

// Snapshot returns a point-in-time health view of every running source.
func (s *Scheduler) Snapshot() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.runners))
	for _, r := range s.runners {
		out = append(out, r.snapshot())
	}
	return out
}
