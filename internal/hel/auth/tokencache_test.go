package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/timescale/hel/internal/hel/auth"
	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/statestore"
)

const testMasterKey = "0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestAttachCache_PersistsAndReloadsToken(t *testing.T) {
	t.Setenv("HEL_MASTER_KEY", testMasterKey)

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "cached-token",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	store := statestore.NewMemoryStore()
	ctx := context.Background()

	p1, err := auth.NewProvider(config.AuthSpec{Type: "oauth2", TokenURL: srv.URL, ClientID: "client-1"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	auth.AttachCache(ctx, p1, store, "src-a", nil)

	if _, err := p1.Prepare(ctx, "GET", "https://example.com/events"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}

	// onRefresh fires the save asynchronously; give it a moment to land.
	deadline := time.Now().Add(time.Second)
	for {
		state, _ := store.Get(ctx, "src-a")
		if _, ok := state["_auth_token_enc"]; ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for token cache to persist")
		}
		time.Sleep(time.Millisecond)
	}

	state, err := store.Get(ctx, "src-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state["_auth_token_enc"] == "cached-token" {
		t.Error("persisted token is plaintext, want encrypted")
	}

	p2, err := auth.NewProvider(config.AuthSpec{Type: "oauth2", TokenURL: srv.URL, ClientID: "client-1"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	auth.AttachCache(ctx, p2, store, "src-a", nil)

	inj, err := p2.Prepare(ctx, "GET", "https://example.com/events")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1 (second provider should reuse the cached token)", hits)
	}
	if got := inj.Headers["Authorization"]; got != "Bearer cached-token" {
		t.Errorf("Authorization = %q, want Bearer cached-token", got)
	}
}

func TestAttachCache_NoMasterKeySkipsCaching(t *testing.T) {
	t.Setenv("HEL_MASTER_KEY", "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "expires_in": 3600})
	}))
	defer srv.Close()

	store := statestore.NewMemoryStore()
	ctx := context.Background()

	p, err := auth.NewProvider(config.AuthSpec{Type: "oauth2", TokenURL: srv.URL, ClientID: "client-1"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	auth.AttachCache(ctx, p, store, "src-b", nil)
	if _, err := p.Prepare(ctx, "GET", "https://example.com/events"); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	state, _ := store.Get(ctx, "src-b")
	if len(state) != 0 {
		t.Errorf("expected no persisted state without HEL_MASTER_KEY, got %v", state)
	}
}

func TestAttachCache_NonCacheableProviderIsNoop(t *testing.T) {
	t.Setenv("HEL_MASTER_KEY", testMasterKey)

	store := statestore.NewMemoryStore()
	t.Setenv("TEST_NOOP_BEARER", "x")
	p, err := auth.NewProvider(config.AuthSpec{Type: "bearer", TokenEnv: "TEST_NOOP_BEARER"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	auth.AttachCache(context.Background(), p, store, "src-c", nil)
}
