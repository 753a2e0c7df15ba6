package polltick

import (
	"encoding/json"
	"net/url"

	"github.com/timescale/hel/internal/hel/auth"
	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/hooks"
	"github.com/timescale/hel/internal/hel/httpexec"
	"github.com/timescale/hel/internal/hel/pagination"
)

const defaultUserAgent = "hel/1 (+https://github.com/timescale/hel)"

// buildInitialRequest assembles the first page's request (spec §4.I.3):
// source.url/method/headers/body, the Auth Injection, the first-request
// watermark/incremental-from/from query parameter (added whether or not
// the state also carries a pagination position), the resumed pagination
// position, and any buildRequest hook override.
func buildInitialRequest(source *config.Source, state map[string]string, inj auth.Injection, override *hooks.RequestOverride) (httpexec.Request, error) {
	req := httpexec.Request{
		Method:  source.Method,
		URL:     source.URL,
		Headers: map[string]string{"User-Agent": defaultUserAgent},
		Body:    []byte(source.Body),
	}
	if req.Method == "" {
		req.Method = "GET"
	}
	if req.Method == "POST" {
		req.Headers["Content-Type"] = "application/json"
	}
	for k, v := range source.Headers {
		req.Headers[k] = v
	}
	for k, v := range inj.Headers {
		req.Headers[k] = v
	}

	if err := applyFirstRequestWatermark(&req, source, state); err != nil {
		return httpexec.Request{}, err
	}

	resumed, err := pagination.ResumeState(source.Pagination, req, state)
	if err != nil {
		return httpexec.Request{}, err
	}
	req = resumed

	if override != nil {
		applyOverride(&req, override)
	}

	return req, nil
}

// applyFirstRequestWatermark injects the watermark/incremental-from/from
// value as a query parameter on the first request of a tick, per
// watermark.first_request_param (spec §4.I.3, GLOSSARY "Incremental-from").
// It is a no-op when the source has no watermark spec or no parameter
// name configured.
func applyFirstRequestWatermark(req *httpexec.Request, source *config.Source, state map[string]string) error {
	w := source.Watermark
	if w == nil || w.FirstRequestParam == "" {
		return nil
	}

	value := state[w.IncrementalFromKey]
	if value == "" {
		value = state["watermark"]
	}
	if value == "" {
		value = w.From
	}
	if value == "" {
		return nil
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set(w.FirstRequestParam, value)
	u.RawQuery = q.Encode()
	req.URL = u.String()
	return nil
}

// applyOverride merges a hook's RequestOverride onto req: url replaces
// wholesale when set, headers and query are merged key-by-key, body
// replaces wholesale when set (spec §4.I "Hooks override default
// behavior").
func applyOverride(req *httpexec.Request, override *hooks.RequestOverride) {
	if override.URL != "" {
		req.URL = override.URL
	}
	for k, v := range override.Headers {
		req.Headers[k] = v
	}
	if len(override.Query) > 0 {
		if u, err := url.Parse(req.URL); err == nil {
			q := u.Query()
			for k, v := range override.Query {
				q.Set(k, v)
			}
			u.RawQuery = q.Encode()
			req.URL = u.String()
		}
	}
	if len(override.Body) > 0 {
		req.Body = []byte(override.Body)
	}
}

// toHookCtx builds the hooks.Ctx snapshot for this tick.
func toHookCtx(source *config.Source, state map[string]string, requestID string, headers map[string]string, lastCursor string) hooks.Ctx {
	ctx := hooks.Ctx{
		Env:          map[string]string{},
		State:        state,
		RequestID:    requestID,
		SourceID:     source.ID,
		DefaultSince: state["watermark"],
		Headers:      headers,
	}
	ctx.Pagination.LastCursor = lastCursor
	return ctx
}

// toHookRequest converts the resolved httpexec.Request into the shape a
// getNextPage hook expects as its "request" argument.
func toHookRequest(req httpexec.Request) hooks.RequestOverride {
	return hooks.RequestOverride{
		URL:     req.URL,
		Headers: req.Headers,
		Body:    json.RawMessage(req.Body),
	}
}

// toHookResponse converts an httpexec.Response into the shape a
// parseResponse/getNextPage hook expects as its "response" argument.
func toHookResponse(resp *httpexec.Response) hooks.HookResponse {
	headers := map[string]string{}
	for k := range resp.Headers {
		headers[k] = resp.Headers.Get(k)
	}
	return hooks.HookResponse{
		Status:  resp.Status,
		Headers: headers,
		Body:    json.RawMessage(resp.Body),
	}
}

// overrideToRequest converts a hook's RequestOverride (as returned by
// getNextPage) back into an httpexec.Request, filling in anything the
// hook left unset from prevReq.
func overrideToRequest(prevReq httpexec.Request, override hooks.RequestOverride) httpexec.Request {
	next := prevReq
	if override.URL != "" {
		next.URL = override.URL
	}
	if override.Headers != nil {
		next.Headers = map[string]string{}
		for k, v := range prevReq.Headers {
			next.Headers[k] = v
		}
		for k, v := range override.Headers {
			next.Headers[k] = v
		}
	}
	if len(override.Body) > 0 {
		next.Body = []byte(override.Body)
	}
	if len(override.Query) > 0 {
		if u, err := url.Parse(next.URL); err == nil {
			q := u.Query()
			for k, v := range override.Query {
				q.Set(k, v)
			}
			u.RawQuery = q.Encode()
			next.URL = u.String()
		}
	}
	return next
}
