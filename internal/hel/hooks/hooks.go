// Package hooks implements the optional per-source scripting layer (spec
// §4.F): a sandboxed ECMAScript interpreter exposing up to five
// well-known functions (getAuth, buildRequest, parseResponse, getNextPage,
// commitState) that a source's config can define to override default poll
// behavior.
package hooks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dop251/goja"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/herr"
)

// Ctx is the read-only snapshot passed as the first argument to every hook
// function (spec §4.F).
type Ctx struct {
	Env          map[string]string `json:"env"`
	State        map[string]string `json:"state"`
	RequestID    string            `json:"requestId"`
	SourceID     string            `json:"sourceId"`
	DefaultSince string            `json:"defaultSince"`
	Pagination   struct {
		LastCursor string `json:"lastCursor"`
	} `json:"pagination"`
	Headers map[string]string `json:"headers"`
}

// AuthResult is getAuth's return shape. Any non-empty field bypasses
// declarative auth for the tick's requests (spec §4.F).
type AuthResult struct {
	Headers      map[string]string `json:"headers,omitempty"`
	Cookie       string            `json:"cookie,omitempty"`
	Query        map[string]string `json:"query,omitempty"`
	BodyFragment json.RawMessage   `json:"bodyFragment,omitempty"`
}

// RequestOverride is buildRequest's and getNextPage's return shape.
type RequestOverride struct {
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// HookResponse is the response half of the (request, response) pair passed
// to getNextPage.
type HookResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

// Runtime wraps one goja.Runtime holding a single source's compiled hook
// script. Spec §4.F requires a single-threaded interpreter; a Runtime must
// not be shared across goroutines or reused across sources.
type Runtime struct {
	vm       *goja.Runtime
	timeout  time.Duration
	allowNet bool

	hasGetAuth       bool
	hasBuildRequest  bool
	hasParseResponse bool
	hasGetNextPage   bool
	hasCommitState   bool
}

// New compiles spec.Script and reports which of the five well-known hook
// functions it defines. secrets lists values (auth tokens, resolved
// credentials) that console.* output must redact before it reaches the
// host log, since a hook has access to whatever ctx.headers carries.
func New(spec config.HookSpec, secrets []string, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	setupConsole(vm, secrets, logger)
	if spec.AllowNetwork {
		setupFetch(vm, &http.Client{Timeout: 10 * time.Second})
	}

	if _, err := vm.RunString(spec.Script); err != nil {
		return nil, herr.New(herr.HookError, "", fmt.Errorf("compile hook script: %w", err))
	}

	timeout := time.Duration(spec.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Runtime{
		vm:               vm,
		timeout:          timeout,
		allowNet:         spec.AllowNetwork,
		hasGetAuth:       isFunction(vm, "getAuth"),
		hasBuildRequest:  isFunction(vm, "buildRequest"),
		hasParseResponse: isFunction(vm, "parseResponse"),
		hasGetNextPage:   isFunction(vm, "getNextPage"),
		hasCommitState:   isFunction(vm, "commitState"),
	}, nil
}

func isFunction(vm *goja.Runtime, name string) bool {
	_, ok := goja.AssertFunction(vm.Get(name))
	return ok
}

// AllowNetwork reports whether this hook's script can call fetch.
func (r *Runtime) AllowNetwork() bool { return r.allowNet }

func (r *Runtime) HasGetAuth() bool       { return r.hasGetAuth }
func (r *Runtime) HasBuildRequest() bool  { return r.hasBuildRequest }
func (r *Runtime) HasParseResponse() bool { return r.hasParseResponse }
func (r *Runtime) HasGetNextPage() bool   { return r.hasGetNextPage }
func (r *Runtime) HasCommitState() bool   { return r.hasCommitState }

// call invokes the named global function with a per-call interrupt timer
// (spec §4.F's timeout_secs, default 5, covering all synchronous work and
// any awaited thenable).
func (r *Runtime) call(name string, args ...any) (goja.Value, error) {
	fn, ok := goja.AssertFunction(r.vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("%s is not a function", name)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = r.vm.ToValue(a)
	}

	timer := time.AfterFunc(r.timeout, func() {
		r.vm.Interrupt(fmt.Sprintf("%s: timed out after %s", name, r.timeout))
	})
	defer timer.Stop()

	result, err := fn(goja.Undefined(), jsArgs...)
	if err != nil {
		if ie, ok := err.(*goja.InterruptedError); ok {
			return nil, herr.New(herr.HookTimeout, "", fmt.Errorf("%s: %v", name, ie))
		}
		return nil, herr.New(herr.HookError, "", fmt.Errorf("%s: %w", name, err))
	}

	resolved, err := awaitValue(r.vm, result)
	if err != nil {
		return nil, herr.New(herr.HookError, "", fmt.Errorf("%s: %w", name, err))
	}
	return resolved, nil
}

// exportInto marshals a goja value's exported Go representation through
// JSON into a typed Go struct, the same "export then round-trip" idiom
// used to turn a dynamic VM value into a concrete shape without hand
// writing a converter per field.
func exportInto(v goja.Value, out any) error {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	raw, err := json.Marshal(v.Export())
	if err != nil {
		return fmt.Errorf("marshal hook return value: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal hook return value: %w", err)
	}
	return nil
}

func validateShape(schema interface {
	Validate(any) error
}, v goja.Value) error {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if err := schema.Validate(v.Export()); err != nil {
		return fmt.Errorf("hook return value does not match expected shape: %w", err)
	}
	return nil
}

// GetAuth runs getAuth(ctx) if defined.
func (r *Runtime) GetAuth(ctx Ctx) (*AuthResult, error) {
	if !r.hasGetAuth {
		return nil, nil
	}
	v, err := r.call("getAuth", ctx)
	if err != nil {
		return nil, err
	}
	if err := validateShape(authResultSchema, v); err != nil {
		return nil, herr.New(herr.HookError, "", err)
	}
	var out AuthResult
	if err := exportInto(v, &out); err != nil {
		return nil, herr.New(herr.HookError, "", err)
	}
	return &out, nil
}

// BuildRequest runs buildRequest(ctx) if defined.
func (r *Runtime) BuildRequest(ctx Ctx) (*RequestOverride, error) {
	if !r.hasBuildRequest {
		return nil, nil
	}
	v, err := r.call("buildRequest", ctx)
	if err != nil {
		return nil, err
	}
	if err := validateShape(requestOverrideSchema, v); err != nil {
		return nil, herr.New(herr.HookError, "", err)
	}
	var out RequestOverride
	if err := exportInto(v, &out); err != nil {
		return nil, herr.New(herr.HookError, "", err)
	}
	return &out, nil
}

// ParseResponse runs parseResponse(ctx, response) if defined. A thrown
// error is returned unless onParseError is "skip", in which case the
// caller should treat a nil, nil result as "no events this page" — that
// policy decision belongs to the caller (internal/hel/polltick), not here.
func (r *Runtime) ParseResponse(ctx Ctx, resp HookResponse) ([]json.RawMessage, error) {
	if !r.hasParseResponse {
		return nil, nil
	}
	v, err := r.call("parseResponse", ctx, resp)
	if err != nil {
		return nil, err
	}
	if err := validateShape(eventsSchema, v); err != nil {
		return nil, herr.New(herr.HookError, "", err)
	}
	var out []json.RawMessage
	if err := exportInto(v, &out); err != nil {
		return nil, herr.New(herr.HookError, "", err)
	}
	return out, nil
}

// GetNextPage runs getNextPage(ctx, request, response) if defined. A nil
// result (including JS null/undefined) means stop paging.
func (r *Runtime) GetNextPage(ctx Ctx, req RequestOverride, resp HookResponse) (*RequestOverride, error) {
	if !r.hasGetNextPage {
		return nil, nil
	}
	v, err := r.call("getNextPage", ctx, req, resp)
	if err != nil {
		return nil, err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if err := validateShape(requestOverrideSchema, v); err != nil {
		return nil, herr.New(herr.HookError, "", err)
	}
	var out RequestOverride
	if err := exportInto(v, &out); err != nil {
		return nil, herr.New(herr.HookError, "", err)
	}
	return &out, nil
}

// CommitState runs commitState(ctx, events) if defined.
func (r *Runtime) CommitState(ctx Ctx, events []json.RawMessage) (map[string]string, error) {
	if !r.hasCommitState {
		return nil, nil
	}
	v, err := r.call("commitState", ctx, events)
	if err != nil {
		return nil, err
	}
	if err := validateShape(stateDeltaSchema, v); err != nil {
		return nil, herr.New(herr.HookError, "", err)
	}
	var out map[string]string
	if err := exportInto(v, &out); err != nil {
		return nil, herr.New(herr.HookError, "", err)
	}
	return out, nil
}
