// Package polltick implements one poll cycle for one source (spec §4.I):
// it composes the State Store, Auth Provider, Resilience Wrapper,
// Pagination engine, Hooks Runtime, Dedupe, and Output Sink to walk a
// source's pages, extract and emit events, and checkpoint state.
package polltick

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"github.com/timescale/hel/common/trace"
	"github.com/timescale/hel/internal/hel/auth"
	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/dedupe"
	"github.com/timescale/hel/internal/hel/herr"
	"github.com/timescale/hel/internal/hel/hooks"
	"github.com/timescale/hel/internal/hel/httpexec"
	"github.com/timescale/hel/internal/hel/pagination"
	"github.com/timescale/hel/internal/hel/resilience"
	"github.com/timescale/hel/internal/hel/sink"
	"github.com/timescale/hel/internal/hel/statestore"
)

// Deps wires the collaborators a single source's Ticker needs. Every
// collaborator except Hook and Logger is required; Hook is nil for sources
// with no script, and a nil Logger defaults to slog.Default().
type Deps struct {
	Source *config.Source

	Store      statestore.Store
	Auth       auth.Provider
	Resilience *resilience.Wrapper
	Dedupe     *dedupe.Deduper
	Hook       *hooks.Runtime
	Sink       *sink.Sink
	Logger     *slog.Logger

	// EmitWithoutCheckpoint mirrors global.degradation.emit_without_checkpoint:
	// when true, a state-write failure on a source configured with
	// on_state_write_error=continue does not fail the tick.
	EmitWithoutCheckpoint bool

	// RequestSem bounds global.bulkhead.max_concurrent_requests: when set,
	// every outbound page request acquires a slot before sending and
	// releases it immediately after, regardless of which source's tick is
	// running. Nil means unlimited (the Scheduler owns sizing this).
	RequestSem chan struct{}
}

// Ticker runs repeated ticks for one source. It is not safe for concurrent
// use: the Scheduler must serialize a source's own ticks (a new one never
// starts before the previous finishes), though distinct sources' Tickers
// run concurrently freely.
type Ticker struct {
	deps Deps
}

// New builds a Ticker from deps.
func New(deps Deps) *Ticker {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Ticker{deps: deps}
}

// Outcome summarizes one tick for health reporting (spec §4.I.7).
type Outcome struct {
	PagesFetched       int
	EventsEmitted      int
	EventsDeduped      int
	CircuitState       resilience.State
	StateWriteFallback bool
}

// Run executes one full tick: load state, resolve auth, walk pages,
// extract and emit events, and checkpoint. ctx is the parent context; the
// tick itself runs under a derived deadline of source.poll_tick_secs.
func (t *Ticker) Run(ctx context.Context) (Outcome, error) {
	source := t.deps.Source
	outcome := Outcome{}

	tickCtx, cancel := context.WithTimeout(ctx, source.PollTickTimeout())
	defer cancel()
	tickCtx = trace.WithTraceID(tickCtx, trace.GenerateID())

	state, err := t.deps.Store.Get(tickCtx, source.ID)
	if err != nil {
		return outcome, fmt.Errorf("load state: %w", err)
	}

	req, authOverride, err := t.buildFirstRequest(tickCtx, state)
	if err != nil {
		outcome.CircuitState = t.deps.Resilience.CircuitState()
		return outcome, err
	}
	_ = authOverride

	engine := pagination.New(source.Pagination, state)
	delta := newStateDelta()

	var collectedEvents []json.RawMessage
	collectAll := t.deps.Hook != nil && t.deps.Hook.HasCommitState()

	var lastCursor string
	var accumulatedBytes int64

	for {
		if err := t.acquireRequestSlot(tickCtx); err != nil {
			outcome.CircuitState = t.deps.Resilience.CircuitState()
			return outcome, err
		}
		resp, doErr := t.deps.Resilience.Do(tickCtx, req)
		t.releaseRequestSlot()
		if doErr != nil {
			if outcome.PagesFetched == 0 {
				outcome.CircuitState = t.deps.Resilience.CircuitState()
				return outcome, doErr
			}
			// Some events already emitted this tick: stop pagination. Per
			// spec §7, commit progress up to the last successful page only
			// when checkpoint=per_page; otherwise the tick's progress (but
			// not already-emitted events, which already reached the sink)
			// is discarded.
			if source.Checkpoint != "per_page" {
				outcome.CircuitState = t.deps.Resilience.CircuitState()
				return outcome, doErr
			}
			break
		}

		outcome.PagesFetched++
		accumulatedBytes += resp.BodyBytes

		if no, ok := t.deps.Auth.(auth.NonceObserver); ok {
			no.ObserveNonce(req.URL, resp.Headers)
		}

		body, utfErr := applyInvalidUTF8Policy(resp.Body, source.OnInvalidUTF8)
		if utfErr != nil {
			return outcome, herr.New(herr.ParseError, source.ID, utfErr)
		}

		events, extractErr := t.extractPageEvents(tickCtx, req, resp, body)
		if extractErr != nil {
			if source.OnParseError == "skip" {
				events = nil
			} else {
				return outcome, extractErr
			}
		}

		for _, ev := range events {
			if collectAll {
				collectedEvents = append(collectedEvents, ev)
			}
			emitted, dedupeErr := t.emitEvent(req.URL, ev)
			if dedupeErr != nil {
				if source.OnParseError == "skip" {
					continue
				}
				return outcome, dedupeErr
			}
			if emitted {
				outcome.EventsEmitted++
				delta.observeEvent(source.Watermark, ev)
			} else {
				outcome.EventsDeduped++
			}
		}

		next, engineDelta, resetCursor, pageErr := t.nextPage(tickCtx, req, resp, len(events), engine, &lastCursor)
		if pageErr != nil {
			if outcome.PagesFetched > 0 && source.Checkpoint == "per_page" {
				break
			}
			return outcome, pageErr
		}
		if resetCursor {
			delta.merge(map[string]string{"cursor": ""})
		}
		delta.merge(engineDelta)

		if source.Checkpoint == "per_page" {
			if err := t.checkpoint(tickCtx, delta.resolve(source.Watermark)); err != nil {
				outcome.StateWriteFallback = true
				if source.OnStateWriteError != "continue" && !t.deps.EmitWithoutCheckpoint {
					return outcome, err
				}
				t.deps.Logger.Warn("state write failed, continuing per on_state_write_error", "source", source.ID, "error", err)
			}
		}

		if next == nil {
			break
		}
		if source.Pagination.MaxBytes > 0 && accumulatedBytes >= source.Pagination.MaxBytes {
			break
		}

		req = *next

		if err := t.deps.Resilience.PageDelay(tickCtx); err != nil {
			break
		}
	}

	if t.deps.Hook != nil && t.deps.Hook.HasCommitState() {
		hookCtx := toHookCtx(source, state, trace.FromContext(tickCtx), req.Headers, lastCursor)
		kv, err := t.deps.Hook.CommitState(hookCtx, collectedEvents)
		if err != nil {
			return outcome, err
		}
		delta.setHookResult(kv)
	}

	if source.Checkpoint != "per_page" {
		if err := t.checkpoint(tickCtx, delta.resolve(source.Watermark)); err != nil {
			outcome.StateWriteFallback = true
			if source.OnStateWriteError != "continue" && !t.deps.EmitWithoutCheckpoint {
				outcome.CircuitState = t.deps.Resilience.CircuitState()
				return outcome, err
			}
			t.deps.Logger.Warn("state write failed, continuing per on_state_write_error", "source", source.ID, "error", err)
		}
	}

	outcome.CircuitState = t.deps.Resilience.CircuitState()
	return outcome, nil
}

// acquireRequestSlot blocks on the Scheduler's global request bulkhead, if
// one is configured. A nil RequestSem means unlimited.
func (t *Ticker) acquireRequestSlot(ctx context.Context) error {
	if t.deps.RequestSem == nil {
		return nil
	}
	select {
	case t.deps.RequestSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Ticker) releaseRequestSlot() {
	if t.deps.RequestSem == nil {
		return
	}
	<-t.deps.RequestSem
}

func (t *Ticker) checkpoint(ctx context.Context, delta map[string]string) error {
	if len(delta) == 0 {
		return nil
	}
	if err := t.deps.Store.Set(ctx, t.deps.Source.ID, delta); err != nil {
		return herr.New(herr.StateWrite, t.deps.Source.ID, err)
	}
	return nil
}

// buildFirstRequest resolves auth (hook or declarative) and builds the
// first page's request, applying any buildRequest hook override.
func (t *Ticker) buildFirstRequest(ctx context.Context, state map[string]string) (httpexec.Request, *hooks.AuthResult, error) {
	source := t.deps.Source

	var inj auth.Injection
	var authOverride *hooks.AuthResult
	var err error

	if t.deps.Hook != nil && t.deps.Hook.HasGetAuth() {
		hookCtx := toHookCtx(source, state, trace.FromContext(ctx), nil, "")
		authOverride, err = t.deps.Hook.GetAuth(hookCtx)
		if err != nil {
			return httpexec.Request{}, nil, err
		}
	} else {
		method := source.Method
		if method == "" {
			method = "GET"
		}
		inj, err = t.deps.Auth.Prepare(ctx, method, source.URL)
		if err != nil {
			return httpexec.Request{}, nil, err
		}
	}

	var buildOverride *hooks.RequestOverride
	if t.deps.Hook != nil && t.deps.Hook.HasBuildRequest() {
		hookCtx := toHookCtx(source, state, trace.FromContext(ctx), nil, "")
		buildOverride, err = t.deps.Hook.BuildRequest(hookCtx)
		if err != nil {
			return httpexec.Request{}, nil, err
		}
	}

	req, err := buildInitialRequest(source, state, inj, buildOverride)
	if err != nil {
		return httpexec.Request{}, nil, err
	}

	if authOverride != nil {
		applyAuthOverride(&req, authOverride)
	}

	return req, authOverride, nil
}

// applyAuthOverride bypasses declarative auth with whatever getAuth
// returned (spec §4.I: "if any auth field is set by getAuth ... is
// bypassed"). Cookie is folded into the Cookie header rather than a
// structured http.Cookie, since getAuth returns it as an opaque string.
func applyAuthOverride(req *httpexec.Request, override *hooks.AuthResult) {
	for k, v := range override.Headers {
		req.Headers[k] = v
	}
	if override.Cookie != "" {
		req.Headers["Cookie"] = override.Cookie
	}
	if len(override.Query) > 0 {
		or := hooks.RequestOverride{Query: override.Query}
		applyOverride(req, &or)
	}
	if len(override.BodyFragment) > 0 {
		merged, err := mergeBodyFragment(req.Body, override.BodyFragment)
		if err == nil {
			req.Body = merged
		}
	}
}

// mergeBodyFragment shallow-merges fragment's top-level keys into body,
// the same merge depth the cursor pagination engine uses for its own
// body injection.
func mergeBodyFragment(body, fragment []byte) ([]byte, error) {
	if len(body) == 0 {
		body = []byte("{}")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(fragment, &fields); err != nil {
		return nil, fmt.Errorf("bodyFragment is not a JSON object: %w", err)
	}
	result := body
	for k, v := range fields {
		merged, err := sjson.SetRawBytes(result, k, v)
		if err != nil {
			return nil, err
		}
		result = merged
	}
	return result, nil
}

// extractPageEvents delegates to parseResponse when the hook defines it,
// otherwise falls back to the default array-location search.
func (t *Ticker) extractPageEvents(ctx context.Context, req httpexec.Request, resp *httpexec.Response, body []byte) ([]json.RawMessage, error) {
	if t.deps.Hook != nil && t.deps.Hook.HasParseResponse() {
		hookCtx := toHookCtx(t.deps.Source, nil, trace.FromContext(ctx), req.Headers, "")
		events, err := t.deps.Hook.ParseResponse(hookCtx, toHookResponse(&httpexec.Response{
			Status:  resp.Status,
			Headers: resp.Headers,
			Body:    body,
		}))
		if err != nil {
			return nil, err
		}
		return events, nil
	}
	events, err := extractEvents(body)
	if err != nil {
		return nil, herr.New(herr.ParseError, t.deps.Source.ID, err)
	}
	return events, nil
}

// emitEvent dedupes and offers one event to the Output Sink. emitted is
// false when the event was a duplicate.
func (t *Ticker) emitEvent(endpoint string, ev json.RawMessage) (emitted bool, err error) {
	source := t.deps.Source

	seen, _, dedupeErr := t.deps.Dedupe.Seen(ev)
	if dedupeErr != nil && dedupeErr != dedupe.ErrMissingID {
		return false, dedupeErr
	}
	if dedupeErr == dedupe.ErrMissingID {
		if source.OnParseError == "skip" {
			return false, nil
		}
		return false, herr.New(herr.ParseError, source.ID, dedupeErr)
	}
	if seen {
		return false, nil
	}

	env := buildEnvelope(source, endpoint, ev, time.Now())
	line, marshalErr := env.marshal()
	if marshalErr != nil {
		return false, herr.New(herr.ParseError, source.ID, marshalErr)
	}
	line = append(line, '\n')

	if limit := source.MaxLineByteLimit(); len(line) > limit {
		switch source.OnMaxLineBytes {
		case "truncate":
			line = append(line[:limit-1], '\n')
		case "skip":
			return false, nil
		default:
			return false, herr.New(herr.ParseError, source.ID, fmt.Errorf("line exceeds max_line_bytes (%d > %d)", len(line), limit))
		}
	}

	if err := t.deps.Sink.Enqueue(source.ID, line); err != nil {
		return false, herr.New(herr.OutputWrite, source.ID, err)
	}
	return true, nil
}

// nextPage computes the following page's request via getNextPage hook or
// the declarative pagination engine.
func (t *Ticker) nextPage(ctx context.Context, req httpexec.Request, resp *httpexec.Response, eventCount int, engine pagination.Engine, lastCursor *string) (next *httpexec.Request, engineDelta map[string]string, resetCursor bool, err error) {
	source := t.deps.Source

	if t.deps.Hook != nil && t.deps.Hook.HasGetNextPage() {
		hookCtx := toHookCtx(source, nil, trace.FromContext(ctx), req.Headers, *lastCursor)
		override, hookErr := t.deps.Hook.GetNextPage(hookCtx, toHookRequest(req), toHookResponse(resp))
		if hookErr != nil {
			return nil, nil, false, hookErr
		}
		if override == nil {
			return nil, nil, false, nil
		}
		nr := overrideToRequest(req, *override)
		return &nr, nil, false, nil
	}

	result := engine.Next(req, resp, eventCount)
	if result.Err != nil {
		return nil, nil, false, result.Err
	}
	return result.Next, result.State, result.ResetCursor, nil
}

// applyInvalidUTF8Policy handles a response body that fails JSON
// validation, per spec §4.I.4.b. "replace" and "escape" behave the same:
// both substitute the Unicode replacement character for invalid UTF-8
// byte sequences and return the result without validating it again;
// "fail" (or an empty policy) surfaces a parse error immediately. A body
// that is already valid JSON passes through untouched regardless of policy.
func applyInvalidUTF8Policy(body []byte, policy string) ([]byte, error) {
	if jsonValid(body) {
		return body, nil
	}
	switch policy {
	case "replace":
		return []byte(strings.ToValidUTF8(string(body), "�")), nil
	case "escape":
		return []byte(strings.ToValidUTF8(string(body), `�`)), nil
	case "fail", "":
		return nil, fmt.Errorf("response body is not valid JSON/UTF-8")
	default:
		return nil, fmt.Errorf("unknown on_invalid_utf8 policy %q", policy)
	}
}

func jsonValid(body []byte) bool {
	return json.Valid(body)
}
