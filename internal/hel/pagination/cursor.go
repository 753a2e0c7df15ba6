package pagination

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/herr"
	"github.com/timescale/hel/internal/hel/httpexec"
)

type cursorEngine struct {
	spec       *config.CursorSpec
	maxPages   int
	page       int
	lastCursor string
}

func newCursorEngine(spec *config.CursorSpec, maxPages int, state map[string]string) *cursorEngine {
	return &cursorEngine{spec: spec, maxPages: maxPages, page: 1, lastCursor: state["cursor"]}
}

func (e *cursorEngine) Next(prevReq httpexec.Request, resp *httpexec.Response, eventCount int) Result {
	if e.maxPages > 0 && e.page >= e.maxPages {
		return Result{}
	}

	if resp.Status >= 400 && resp.Status < 500 {
		if e.spec.OnCursorErr == "reset" {
			return Result{ResetCursor: true}
		}
		return Result{Err: herr.WithStatus("", resp.Status, fmt.Errorf("cursor pagination request failed"))}
	}

	if e.spec.HasMorePath != "" {
		hasMore := gjson.GetBytes(resp.Body, e.spec.HasMorePath)
		if hasMore.Exists() && !hasMore.Bool() {
			return Result{}
		}
	}

	cursor := gjson.GetBytes(resp.Body, e.spec.CursorPath)
	if !cursor.Exists() || cursor.String() == "" {
		return Result{}
	}
	value := cursor.String()
	if value == e.lastCursor {
		return Result{}
	}

	next, err := e.applyCursor(prevReq, value)
	if err != nil {
		return Result{Err: herr.New(herr.ParseError, "", fmt.Errorf("apply cursor: %w", err))}
	}

	e.lastCursor = value
	e.page++
	return Result{Next: next, State: map[string]string{"cursor": value}}
}

// applyCursor places the cursor value into the next request, delegating to
// the package-level applyCursorParam shared with ResumeState.
func (e *cursorEngine) applyCursor(req httpexec.Request, value string) (*httpexec.Request, error) {
	return applyCursorParam(req, e.spec.CursorParam, value)
}

// applyCursorParam places a cursor value into req: a query parameter for
// GET, or a shallow top-level merge into the JSON body for POST. Nested
// placement is deliberately unsupported — sources that need it configure a
// buildRequest hook instead (spec §4.E).
func applyCursorParam(req httpexec.Request, param, value string) (*httpexec.Request, error) {
	if req.Method != http.MethodPost {
		return withQueryParam(req, param, value)
	}

	body := req.Body
	if len(body) == 0 {
		body = []byte("{}")
	}
	merged, err := sjson.SetBytes(body, param, value)
	if err != nil {
		return nil, fmt.Errorf("merge cursor into body: %w", err)
	}

	next := cloneRequest(req)
	next.Body = merged
	return &next, nil
}
