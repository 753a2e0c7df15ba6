package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/timescale/hel/internal/hel/herr"
	"github.com/timescale/hel/internal/hel/httpexec"
)

// Player substitutes for the live httpexec.Executor in replay mode (spec
// §4.K): it never sends a request, instead looking up the fixture whose
// fingerprint matches and returning its recorded response. A missing
// fixture fails the tick with herr.ReplayMiss rather than falling back to
// the network.
type Player struct {
	dir      string
	sourceID string
}

// NewPlayer builds a Player reading fixtures from dir/sourceID.
func NewPlayer(dir, sourceID string) *Player {
	return &Player{dir: dir, sourceID: sourceID}
}

// Do looks up req's fixture and returns its recorded response, ignoring
// ctx entirely since no network call is made.
func (p *Player) Do(_ context.Context, req httpexec.Request) (*httpexec.Response, error) {
	fp := fingerprint(req.Method, req.URL, req.Body)
	path := filepath.Join(p.dir, p.sourceID, fp+".json")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, herr.New(herr.ReplayMiss, p.sourceID, fmt.Errorf("no fixture for %s %s (fingerprint %s)", req.Method, req.URL, fp))
	}
	if err != nil {
		return nil, herr.New(herr.ReplayMiss, p.sourceID, err)
	}

	var fx fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, herr.New(herr.ReplayMiss, p.sourceID, fmt.Errorf("corrupt fixture %s: %w", path, err))
	}

	headers := make(http.Header, len(fx.Response.Headers))
	for k, v := range fx.Response.Headers {
		headers.Set(k, v)
	}

	body := []byte(fx.Response.Body)
	return &httpexec.Response{
		Status:    fx.Response.Status,
		Headers:   headers,
		Body:      body,
		BodyBytes: int64(len(body)),
	}, nil
}
