package pagination

import (
	"fmt"
	"net/url"

	"github.com/timescale/hel/internal/hel/httpexec"
)

// cloneRequest copies req shallowly, duplicating the Headers map so callers
// can mutate the clone without touching the caller's copy.
func cloneRequest(req httpexec.Request) httpexec.Request {
	next := req
	if req.Headers != nil {
		next.Headers = make(map[string]string, len(req.Headers))
		for k, v := range req.Headers {
			next.Headers[k] = v
		}
	}
	return next
}

// withQueryParam returns req with key=value set (replacing any existing
// value) in its URL's query string.
func withQueryParam(req httpexec.Request, key, value string) (*httpexec.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()

	next := cloneRequest(req)
	next.URL = u.String()
	return &next, nil
}
