// Package pagination implements the three declarative pagination engines
// from spec §4.E: link_header, cursor, and page_offset. Each engine turns
// the request/response pair from one page into the request for the next
// page, or a stop signal.
//
// An Engine instance is scoped to a single poll tick: it is constructed
// fresh by New for every tick and carries that tick's page count and
// (for cursor) last-seen-cursor bookkeeping. It is not safe to reuse
// across ticks or share between sources.
package pagination

import (
	"fmt"
	"strconv"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/httpexec"
)

// Result is what an Engine returns after inspecting one page.
type Result struct {
	// Next is the request for the following page, or nil to stop paging.
	Next *httpexec.Request

	// State carries the engine's position bookkeeping for this page
	// (spec §4.I.5: cursor/next_url/skip), to be persisted by the caller
	// so a mid-chain tick timeout resumes from here rather than page one.
	State map[string]string

	// ResetCursor signals that the caller should clear the persisted
	// cursor state key and restart from the first page on the next tick
	// (cursor engine, on_cursor_error=reset).
	ResetCursor bool

	// Err, if non-nil, fails the current tick (cursor engine,
	// on_cursor_error=fail on a 4xx response).
	Err error
}

// Engine computes the next page's request from the previous request,
// the response it produced, and the number of events extracted from
// that response (needed by page_offset's short-page stop rule).
type Engine interface {
	Next(prevReq httpexec.Request, resp *httpexec.Response, eventCount int) Result
}

// New builds the Engine configured by spec, or a single-page no-op engine
// if spec names no strategy. state is the source's persisted state from
// the prior tick; when it carries a cursor or skip key left over from a
// tick that hit its deadline mid-chain, the engine resumes its internal
// position bookkeeping from there instead of restarting at page one. It
// is variadic only so existing single-page-tick call sites (and tests
// exercising an engine with no history) can omit it.
func New(spec config.PaginationSpec, state ...map[string]string) Engine {
	var st map[string]string
	if len(state) > 0 {
		st = state[0]
	}
	switch spec.Strategy() {
	case "cursor":
		return newCursorEngine(spec.Cursor, spec.MaxPages, st)
	case "link_header":
		return newLinkHeaderEngine(spec.LinkHeader, spec.MaxPages)
	case "page_offset":
		return newPageOffsetEngine(spec.PageOffset, spec.MaxPages, st)
	default:
		return noneEngine{}
	}
}

// ResumeState carries a prior tick's persisted cursor/next_url/skip value
// into req, the first request of a new tick, so pagination continues from
// where the last tick left off instead of restarting from page one (spec
// §4.I.5). It is a no-op for strategies or state maps with nothing to
// resume.
func ResumeState(spec config.PaginationSpec, req httpexec.Request, state map[string]string) (httpexec.Request, error) {
	switch spec.Strategy() {
	case "cursor":
		value := state["cursor"]
		if value == "" {
			return req, nil
		}
		next, err := applyCursorParam(req, spec.Cursor.CursorParam, value)
		if err != nil {
			return req, fmt.Errorf("resume cursor: %w", err)
		}
		return *next, nil

	case "link_header":
		next := state["next_url"]
		if next == "" {
			return req, nil
		}
		resumed := cloneRequest(req)
		resumed.URL = next
		return resumed, nil

	case "page_offset":
		skip := state["skip"]
		if skip == "" {
			return req, nil
		}
		next, err := withQueryParam(req, spec.PageOffset.PageParam, skip)
		if err != nil {
			return req, fmt.Errorf("resume page offset: %w", err)
		}
		merged, err := withQueryParam(*next, spec.PageOffset.LimitParam, strconv.Itoa(spec.PageOffset.Limit))
		if err != nil {
			return req, fmt.Errorf("resume page offset: %w", err)
		}
		return *merged, nil

	default:
		return req, nil
	}
}

// noneEngine always stops after the first page.
type noneEngine struct{}

func (noneEngine) Next(httpexec.Request, *httpexec.Response, int) Result {
	return Result{}
}
