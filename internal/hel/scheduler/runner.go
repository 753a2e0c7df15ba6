package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/timescale/hel/internal/hel/auth"
	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/dedupe"
	"github.com/timescale/hel/internal/hel/hooks"
	"github.com/timescale/hel/internal/hel/httpexec"
	"github.com/timescale/hel/internal/hel/polltick"
	"github.com/timescale/hel/internal/hel/replay"
	"github.com/timescale/hel/internal/hel/resilience"
	"github.com/timescale/hel/internal/hel/sink"
	"github.com/timescale/hel/internal/hel/statestore"
)

// replaySpec carries global.replay down to each source runner.
type replaySpec struct {
	Mode string
	Dir  string
}

// buildDoer returns the live Executor in normal operation, or wraps/
// substitutes it per global.replay.mode (spec §4.K): "record" sends live
// and also persists a fixture per transaction, "replay" serves fixtures
// with no network traffic at all.
func buildDoer(source *config.Source, rs replaySpec) (httpexec.Doer, error) {
	if rs.Mode == "replay" {
		return replay.NewPlayer(rs.Dir, source.ID), nil
	}

	exec, err := httpexec.New(source.Resilience, source.TLS, source.MaxResponseBytes())
	if err != nil {
		return nil, err
	}
	if rs.Mode == "record" {
		return replay.NewRecorder(rs.Dir, source.ID, exec), nil
	}
	return exec, nil
}

// sourceRunner owns one source's collaborators and its tick loop. Each
// field is built once when the source is started and torn down (or
// rebuilt, on a restart-on-reload request) only when that source leaves
// or re-enters the live config, matching the per-source ownership spec
// §5 describes: the circuit breaker, rate limiter, token cache, and
// dedupe LRU all live for as long as this runner does.
type sourceRunner struct {
	id     string
	source *config.Source
	ticker *polltick.Ticker
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	lastOutcome polltick.Outcome
	lastErr     error
	lastRunAt   time.Time
}

// buildSourceRunner wires the Auth Provider, HTTP Executor (or its
// record/replay substitute), resilience Wrapper, dedupe LRU, optional
// hook Runtime, and the Ticker itself for one source (spec §4.B-§4.I,
// §4.K wiring).
func buildSourceRunner(source *config.Source, store statestore.Store, out *sink.Sink, requestSem semaphore, emitWithoutCheckpoint bool, replaySpec replaySpec, logger *slog.Logger) (*sourceRunner, error) {
	doer, err := buildDoer(source, replaySpec)
	if err != nil {
		return nil, err
	}
	provider, err := auth.NewProvider(source.Auth)
	if err != nil {
		return nil, err
	}
	auth.AttachCache(context.Background(), provider, store, source.ID, logger)
	ded, err := dedupe.New(source.Dedupe)
	if err != nil {
		return nil, err
	}

	var hookRuntime *hooks.Runtime
	if source.Hook != nil {
		hookRuntime, err = hooks.New(*source.Hook, nil, logger)
		if err != nil {
			return nil, err
		}
	}

	t := polltick.New(polltick.Deps{
		Source:                source,
		Store:                 store,
		Auth:                  provider,
		Resilience:            resilience.New(source.Resilience, doer),
		Dedupe:                ded,
		Hook:                  hookRuntime,
		Sink:                  out,
		Logger:                logger,
		EmitWithoutCheckpoint: emitWithoutCheckpoint,
		RequestSem:            requestSem,
	})

	return &sourceRunner{id: source.ID, source: source, ticker: t}, nil
}

// recordOutcome stores the latest tick's result for health reporting.
func (r *sourceRunner) recordOutcome(outcome polltick.Outcome, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastOutcome = outcome
	r.lastErr = err
	r.lastRunAt = time.Now()
}

// Snapshot is the per-source health view the Scheduler exposes.
type Snapshot struct {
	SourceID     string
	LastRunAt    time.Time
	LastOutcome  polltick.Outcome
	LastError    string
	CircuitState resilience.State
}

func (r *sourceRunner) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{
		SourceID:     r.id,
		LastRunAt:    r.lastRunAt,
		LastOutcome:  r.lastOutcome,
		CircuitState: r.lastOutcome.CircuitState,
	}
	if r.lastErr != nil {
		snap.LastError = r.lastErr.Error()
	}
	return snap
}
