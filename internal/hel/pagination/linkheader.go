package pagination

import (
	"strings"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/httpexec"
)

type linkHeaderEngine struct {
	rel      string
	maxPages int
	page     int
}

func newLinkHeaderEngine(spec *config.LinkHeaderSpec, maxPages int) *linkHeaderEngine {
	rel := "next"
	if spec != nil && spec.Rel != "" {
		rel = spec.Rel
	}
	return &linkHeaderEngine{rel: rel, maxPages: maxPages, page: 1}
}

func (e *linkHeaderEngine) Next(prevReq httpexec.Request, resp *httpexec.Response, eventCount int) Result {
	if e.maxPages > 0 && e.page >= e.maxPages {
		return Result{}
	}

	target, ok := parseLinkHeader(resp.Headers.Get("Link"))[e.rel]
	if !ok {
		return Result{}
	}

	e.page++
	next := cloneRequest(prevReq)
	next.URL = target
	return Result{Next: &next, State: map[string]string{"next_url": target}}
}

// parseLinkHeader parses an RFC 5988 Link header into a rel -> target map.
// Malformed segments are skipped rather than erroring; a missing or
// unparsable header simply yields no entries, which the caller treats as
// "no next page".
func parseLinkHeader(header string) map[string]string {
	out := map[string]string{}
	if header == "" {
		return out
	}

	for _, segment := range strings.Split(header, ",") {
		parts := strings.Split(segment, ";")
		if len(parts) < 2 {
			continue
		}
		target := strings.TrimSpace(parts[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		target = strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")

		var rel string
		for _, p := range parts[1:] {
			p = strings.TrimSpace(p)
			const prefix = `rel="`
			if strings.HasPrefix(p, prefix) && strings.HasSuffix(p, `"`) {
				rel = p[len(prefix) : len(p)-1]
				break
			}
			if strings.HasPrefix(p, "rel=") {
				rel = strings.Trim(strings.TrimPrefix(p, "rel="), `"`)
				break
			}
		}
		if rel == "" {
			continue
		}
		out[rel] = target
	}
	return out
}
