package httpexec_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/httpexec"
)

func TestExecutor_Do_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	exec, err := httpexec.New(config.ResilienceSpec{}, config.TLSSpec{}, 0)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	resp, err := exec.Do(context.Background(), httpexec.Request{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: unexpected error: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("Body = %q", resp.Body)
	}
	if resp.Headers.Get("X-Test") != "yes" {
		t.Error("expected X-Test header to be captured")
	}
}

func TestExecutor_Do_HeadersSent(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	exec, _ := httpexec.New(config.ResilienceSpec{}, config.TLSSpec{}, 0)
	_, err := exec.Do(context.Background(), httpexec.Request{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer abc"},
	})
	if err != nil {
		t.Fatalf("Do: unexpected error: %v", err)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("server saw Authorization=%q, want %q", gotAuth, "Bearer abc")
	}
}

func TestExecutor_Do_4xxIsNotATransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	exec, _ := httpexec.New(config.ResilienceSpec{}, config.TLSSpec{}, 0)
	resp, err := exec.Do(context.Background(), httpexec.Request{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: unexpected error for HTTP-level failure: %v", err)
	}
	if resp.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", resp.Status)
	}
}

func TestExecutor_Do_ResponseTruncatedAtMaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	exec, _ := httpexec.New(config.ResilienceSpec{}, config.TLSSpec{}, 5)
	resp, err := exec.Do(context.Background(), httpexec.Request{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("Do: unexpected error: %v", err)
	}
	if !resp.Truncated {
		t.Error("expected Truncated=true")
	}
	if len(resp.Body) != 5 {
		t.Errorf("len(Body) = %d, want 5", len(resp.Body))
	}
}

func TestExecutor_Do_TimeoutClassifiedAsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	exec, err := httpexec.New(config.ResilienceSpec{RequestTimeoutSecs: 0, ConnectTimeoutSecs: 0}, config.TLSSpec{}, 0)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = exec.Do(ctx, httpexec.Request{Method: http.MethodGet, URL: srv.URL})
	if err == nil {
		t.Fatal("Do: expected error for request exceeding context deadline")
	}
}

func TestExecutor_Do_ConnectionRefused(t *testing.T) {
	exec, _ := httpexec.New(config.ResilienceSpec{}, config.TLSSpec{}, 0)
	_, err := exec.Do(context.Background(), httpexec.Request{Method: http.MethodGet, URL: "http://127.0.0.1:1"})
	if err == nil {
		t.Fatal("Do: expected error connecting to closed port")
	}
}

func TestNew_UnsupportedTLSVersion(t *testing.T) {
	if _, err := httpexec.New(config.ResilienceSpec{}, config.TLSSpec{MinVersion: "1.0"}, 0); err == nil {
		t.Error("New: expected error for unsupported tls minVersion")
	}
}

func TestNew_ClientCertRequiresReadableFiles(t *testing.T) {
	if _, err := httpexec.New(config.ResilienceSpec{}, config.TLSSpec{ClientCert: "/nope.crt", ClientKey: "/nope.key"}, 0); err == nil {
		t.Error("New: expected error for unreadable client cert")
	}
}
