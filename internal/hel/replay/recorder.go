package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/timescale/hel/internal/hel/httpexec"
)

// Recorder wraps a live httpexec.Doer and writes a fixture for every
// request/response pair to dir/<sourceID>/<fingerprint>.json, then
// returns the real response unchanged. Used for every source when
// global.replay.mode is "record", with fixtures under global.replay.dir.
type Recorder struct {
	dir      string
	sourceID string
	inner    httpexec.Doer
}

// NewRecorder builds a Recorder writing fixtures under dir/sourceID.
func NewRecorder(dir, sourceID string, inner httpexec.Doer) *Recorder {
	return &Recorder{dir: dir, sourceID: sourceID, inner: inner}
}

// Do sends req through the wrapped Doer, persists the transaction as a
// fixture, and returns the real response.
func (r *Recorder) Do(ctx context.Context, req httpexec.Request) (*httpexec.Response, error) {
	resp, err := r.inner.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if writeErr := r.write(req, resp); writeErr != nil {
		return resp, fmt.Errorf("replay: record fixture: %w", writeErr)
	}
	return resp, nil
}

func (r *Recorder) write(req httpexec.Request, resp *httpexec.Response) error {
	sourceDir := filepath.Join(r.dir, r.sourceID)
	if err := os.MkdirAll(sourceDir, 0o755); err != nil {
		return err
	}

	fp := fingerprint(req.Method, req.URL, req.Body)
	fx := fixture{
		Request: fixtureRequest{
			Method:  req.Method,
			URL:     req.URL,
			Headers: req.Headers,
			Body:    string(req.Body),
		},
		Response: fixtureResponse{
			Status:  resp.Status,
			Headers: flattenResponseHeaders(resp.Headers),
			Body:    string(resp.Body),
		},
	}

	data, err := json.MarshalIndent(fx, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(sourceDir, fp+".json")
	return os.WriteFile(path, data, 0o644)
}

func flattenResponseHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
