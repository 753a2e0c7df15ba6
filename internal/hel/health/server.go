// Package health exposes the HTTP status surface spec §5 implies every
// long-running poll engine needs: a liveness probe and a per-source
// snapshot of circuit state, last tick outcome, and queue depth.
//
// Adapted from the teacher's internal/ruriko/app/health.go: same
// listen-in-background/shutdown-on-context-cancel shape and the same
// ServeHTTP-delegates-to-an-internal-mux trick that makes the server
// testable with httptest without a live listener. Ruriko's /status
// reported agent_count from its Store; Hel's reports one snapshot per
// configured source plus the Output Sink's queue stats instead.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/timescale/hel/common/version"
	"github.com/timescale/hel/internal/hel/scheduler"
	"github.com/timescale/hel/internal/hel/sink"
)

// snapshotProvider is the minimal interface the health server needs from
// the Scheduler.
type snapshotProvider interface {
	Snapshot() []scheduler.Snapshot
}

// Server exposes /health and /status. It is optional; Hel runs without it
// when no address is configured.
type Server struct {
	addr      string
	scheduler snapshotProvider
	sink      *sink.Sink
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type statusResponse struct {
	Status     string               `json:"status"`
	Version    string               `json:"version"`
	UptimeSecs float64              `json:"uptime_seconds"`
	Sink       sink.Stats           `json:"sink"`
	Sources    []scheduler.Snapshot `json:"sources"`
}

// New creates and configures the HTTP server (does not start it).
func New(addr string, sched snapshotProvider, s *sink.Sink) *Server {
	mux := http.NewServeMux()
	h := &Server{
		addr:      addr,
		scheduler: sched,
		sink:      s,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/status", h.handleStatus)
	return h
}

// ServeHTTP implements http.Handler so the server can be exercised with
// httptest.NewRecorder without a live listener.
func (h *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Start begins listening in the background. It blocks until the listener
// is established so the caller knows the port is open before returning,
// and shuts down automatically when ctx is cancelled.
func (h *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}

	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (h *Server) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown error", "error", err)
	}
}

func (h *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version})
}

func (h *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
	}
	if h.sink != nil {
		resp.Sink = h.sink.Stats()
	}
	if h.scheduler != nil {
		resp.Sources = h.scheduler.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
