package replay

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/timescale/hel/internal/hel/herr"
	"github.com/timescale/hel/internal/hel/httpexec"
)

type fakeDoer struct {
	resp *httpexec.Response
	err  error
}

func (f fakeDoer) Do(context.Context, httpexec.Request) (*httpexec.Response, error) {
	return f.resp, f.err
}

func TestFingerprint_StableAcrossEquivalentJSONKeyOrder(t *testing.T) {
	a := fingerprint("GET", "http://x/y", []byte(`{"a":1,"b":2}`))
	b := fingerprint("GET", "http://x/y", []byte(`{"b":2,"a":1}`))
	if a != b {
		t.Fatalf("fingerprints differ for equivalent JSON bodies: %s vs %s", a, b)
	}
}

func TestFingerprint_DiffersOnURL(t *testing.T) {
	a := fingerprint("GET", "http://x/y", nil)
	b := fingerprint("GET", "http://x/z", nil)
	if a == b {
		t.Fatal("expected different fingerprints for different URLs")
	}
}

func TestRecorder_WritesFixtureAndPlayerReplaysIt(t *testing.T) {
	dir := t.TempDir()
	headers := http.Header{}
	headers.Set("X-Test", "1")
	inner := fakeDoer{resp: &httpexec.Response{Status: 200, Headers: headers, Body: []byte(`{"ok":true}`)}}

	rec := NewRecorder(dir, "src1", inner)
	req := httpexec.Request{Method: "GET", URL: "http://example.com/events", Body: nil}

	resp, err := rec.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Record Do: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("Status = %d, want 200", resp.Status)
	}

	fp := fingerprint(req.Method, req.URL, req.Body)
	path := filepath.Join(dir, "src1", fp+".json")
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("expected fixture file at %s: %v", path, statErr)
	}

	player := NewPlayer(dir, "src1")
	replayed, err := player.Do(context.Background(), req)
	if err != nil {
		t.Fatalf("Player Do: %v", err)
	}
	if replayed.Status != 200 {
		t.Errorf("replayed Status = %d, want 200", replayed.Status)
	}
	if string(replayed.Body) != `{"ok":true}` {
		t.Errorf("replayed Body = %q", replayed.Body)
	}
	if replayed.Headers.Get("X-Test") != "1" {
		t.Errorf("replayed header X-Test = %q, want 1", replayed.Headers.Get("X-Test"))
	}
}

func TestPlayer_MissingFixtureReturnsReplayMiss(t *testing.T) {
	dir := t.TempDir()
	player := NewPlayer(dir, "src1")

	_, err := player.Do(context.Background(), httpexec.Request{Method: "GET", URL: "http://example.com/nope"})
	if err == nil {
		t.Fatal("expected an error for a missing fixture")
	}
	if !herr.Is(err, herr.ReplayMiss) {
		t.Errorf("expected herr.ReplayMiss, got %v", err)
	}
}

func TestRecorder_PropagatesInnerError(t *testing.T) {
	dir := t.TempDir()
	wantErr := errors.New("boom")
	inner := fakeDoer{err: wantErr}
	rec := NewRecorder(dir, "src1", inner)

	_, err := rec.Do(context.Background(), httpexec.Request{Method: "GET", URL: "http://x"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped inner error, got %v", err)
	}
}
