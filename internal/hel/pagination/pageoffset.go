package pagination

import (
	"strconv"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/httpexec"
)

type pageOffsetEngine struct {
	spec     *config.PageOffsetSpec
	maxPages int
	page     int // page number of the request that just ran
}

func newPageOffsetEngine(spec *config.PageOffsetSpec, maxPages int, state map[string]string) *pageOffsetEngine {
	page := 1
	if v, err := strconv.Atoi(state["skip"]); err == nil && v > 0 {
		page = v
	}
	return &pageOffsetEngine{spec: spec, maxPages: maxPages, page: page}
}

func (e *pageOffsetEngine) Next(prevReq httpexec.Request, resp *httpexec.Response, eventCount int) Result {
	if eventCount < e.spec.Limit {
		return Result{}
	}
	if e.maxPages > 0 && e.page >= e.maxPages {
		return Result{}
	}

	e.page++
	next, err := withQueryParam(prevReq, e.spec.PageParam, strconv.Itoa(e.page))
	if err != nil {
		return Result{Err: err}
	}
	merged, err := withQueryParam(*next, e.spec.LimitParam, strconv.Itoa(e.spec.Limit))
	if err != nil {
		return Result{Err: err}
	}
	return Result{Next: merged, State: map[string]string{"skip": strconv.Itoa(e.page)}}
}
