package pagination_test

import (
	"net/http"
	"testing"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/httpexec"
	"github.com/timescale/hel/internal/hel/pagination"
)

func TestLinkHeaderEngine_FollowsNextRel(t *testing.T) {
	e := pagination.New(config.PaginationSpec{LinkHeader: &config.LinkHeaderSpec{}})

	req := httpexec.Request{Method: http.MethodGet, URL: "https://api.example.com/events?page=1"}
	headers := http.Header{}
	headers.Set("Link", `<https://api.example.com/events?page=2>; rel="next", <https://api.example.com/events?page=1>; rel="prev"`)
	resp := &httpexec.Response{Status: 200, Headers: headers}

	result := e.Next(req, resp, 10)
	if result.Next == nil {
		t.Fatal("Next: expected a next request")
	}
	if result.Next.URL != "https://api.example.com/events?page=2" {
		t.Errorf("Next.URL = %q", result.Next.URL)
	}
}

func TestLinkHeaderEngine_CustomRel(t *testing.T) {
	e := pagination.New(config.PaginationSpec{LinkHeader: &config.LinkHeaderSpec{Rel: "more"}})

	req := httpexec.Request{Method: http.MethodGet, URL: "https://api.example.com/events"}
	headers := http.Header{}
	headers.Set("Link", `<https://api.example.com/events?p=2>; rel="more"`)
	resp := &httpexec.Response{Status: 200, Headers: headers}

	result := e.Next(req, resp, 10)
	if result.Next == nil || result.Next.URL != "https://api.example.com/events?p=2" {
		t.Fatalf("Next = %+v, want custom rel followed", result.Next)
	}
}

func TestLinkHeaderEngine_NoNextRelStops(t *testing.T) {
	e := pagination.New(config.PaginationSpec{LinkHeader: &config.LinkHeaderSpec{}})

	req := httpexec.Request{Method: http.MethodGet, URL: "https://api.example.com/events"}
	resp := &httpexec.Response{Status: 200, Headers: http.Header{}}

	result := e.Next(req, resp, 10)
	if result.Next != nil {
		t.Errorf("Next = %+v, want nil (no Link header)", result.Next)
	}
}

func TestLinkHeaderEngine_StopsAtMaxPages(t *testing.T) {
	e := pagination.New(config.PaginationSpec{MaxPages: 1, LinkHeader: &config.LinkHeaderSpec{}})

	req := httpexec.Request{Method: http.MethodGet, URL: "https://api.example.com/events"}
	headers := http.Header{}
	headers.Set("Link", `<https://api.example.com/events?page=2>; rel="next"`)
	resp := &httpexec.Response{Status: 200, Headers: headers}

	result := e.Next(req, resp, 10)
	if result.Next != nil {
		t.Errorf("Next = %+v, want nil at max_pages=1", result.Next)
	}
}

func TestLinkHeaderEngine_NextReturnsURLState(t *testing.T) {
	e := pagination.New(config.PaginationSpec{LinkHeader: &config.LinkHeaderSpec{}})

	req := httpexec.Request{Method: http.MethodGet, URL: "https://api.example.com/events"}
	headers := http.Header{}
	headers.Set("Link", `<https://api.example.com/events?page=2>; rel="next"`)
	resp := &httpexec.Response{Status: 200, Headers: headers}

	result := e.Next(req, resp, 10)
	if got := result.State["next_url"]; got != "https://api.example.com/events?page=2" {
		t.Errorf("State[next_url] = %q", got)
	}
}

func TestResumeState_LinkHeaderUsesPersistedNextURL(t *testing.T) {
	spec := config.PaginationSpec{LinkHeader: &config.LinkHeaderSpec{}}
	req := httpexec.Request{Method: http.MethodGet, URL: "https://api.example.com/events"}

	resumed, err := pagination.ResumeState(spec, req, map[string]string{"next_url": "https://api.example.com/events?page=3"})
	if err != nil {
		t.Fatalf("ResumeState: unexpected error: %v", err)
	}
	if resumed.URL != "https://api.example.com/events?page=3" {
		t.Errorf("resumed.URL = %q, want persisted next_url", resumed.URL)
	}
}

func TestLinkHeaderEngine_PreservesBodyForPOST(t *testing.T) {
	e := pagination.New(config.PaginationSpec{LinkHeader: &config.LinkHeaderSpec{}})

	req := httpexec.Request{Method: http.MethodPost, URL: "https://api.example.com/events", Body: []byte(`{"q":"x"}`)}
	headers := http.Header{}
	headers.Set("Link", `<https://api.example.com/events?page=2>; rel="next"`)
	resp := &httpexec.Response{Status: 200, Headers: headers}

	result := e.Next(req, resp, 10)
	if result.Next == nil {
		t.Fatal("Next: expected a next request")
	}
	if string(result.Next.Body) != `{"q":"x"}` {
		t.Errorf("Next.Body = %s, want preserved POST body", result.Next.Body)
	}
}
