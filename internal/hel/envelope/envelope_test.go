package envelope_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/timescale/hel/internal/hel/envelope"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func validEnvelope() *envelope.Envelope {
	return &envelope.Envelope{
		TS:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		LabelValue: "okta",
		Endpoint:   "https://example.okta.com/api/v1/logs",
		Event:      json.RawMessage(`{"id":"a"}`),
	}
}

// ── Validate ──────────────────────────────────────────────────────────────────

func TestEnvelope_Validate_Valid(t *testing.T) {
	if err := validEnvelope().Validate(); err != nil {
		t.Errorf("Validate: unexpected error: %v", err)
	}
}

func TestEnvelope_Validate_Nil(t *testing.T) {
	var e *envelope.Envelope
	if err := e.Validate(); err == nil {
		t.Error("Validate: expected error for nil envelope")
	}
}

func TestEnvelope_Validate_EmptyEndpoint(t *testing.T) {
	e := validEnvelope()
	e.Endpoint = ""
	if err := e.Validate(); err == nil {
		t.Error("Validate: expected error for empty endpoint")
	}
}

func TestEnvelope_Validate_ZeroTS(t *testing.T) {
	e := validEnvelope()
	e.TS = time.Time{}
	if err := e.Validate(); err == nil {
		t.Error("Validate: expected error for zero ts")
	}
}

func TestEnvelope_Validate_EmptyEvent(t *testing.T) {
	e := validEnvelope()
	e.Event = nil
	if err := e.Validate(); err == nil {
		t.Error("Validate: expected error for empty event")
	}
}

// ── MarshalLine ───────────────────────────────────────────────────────────────

func TestMarshalLine_DefaultLabelKey(t *testing.T) {
	line, err := validEnvelope().MarshalLine()
	if err != nil {
		t.Fatalf("MarshalLine: unexpected error: %v", err)
	}
	if !strings.HasSuffix(string(line), "\n") {
		t.Errorf("MarshalLine: expected trailing newline")
	}

	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("json.Unmarshal of output: %v", err)
	}
	if decoded["source"] != "okta" {
		t.Errorf("source: got %v, want okta", decoded["source"])
	}
	if decoded["ts"] != "2024-01-01T00:00:00Z" {
		t.Errorf("ts: got %v", decoded["ts"])
	}
	if decoded["endpoint"] != "https://example.okta.com/api/v1/logs" {
		t.Errorf("endpoint: got %v", decoded["endpoint"])
	}
}

func TestMarshalLine_CustomLabelKey(t *testing.T) {
	e := validEnvelope()
	e.LabelKey = "tenant"
	line, err := e.MarshalLine()
	if err != nil {
		t.Fatalf("MarshalLine: unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if _, present := decoded["source"]; present {
		t.Errorf("expected no 'source' key when LabelKey is customised")
	}
	if decoded["tenant"] != "okta" {
		t.Errorf("tenant: got %v, want okta", decoded["tenant"])
	}
}

func TestMarshalLine_WithMeta(t *testing.T) {
	e := validEnvelope()
	e.Meta = map[string]string{"id": "abc123", "cursor": "c1"}
	line, err := e.MarshalLine()
	if err != nil {
		t.Fatalf("MarshalLine: unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	meta, ok := decoded["meta"].(map[string]any)
	if !ok {
		t.Fatalf("meta is not an object: %v", decoded["meta"])
	}
	if meta["id"] != "abc123" {
		t.Errorf("meta.id: got %v", meta["id"])
	}
}

func TestMarshalLine_NoMetaOmitted(t *testing.T) {
	line, err := validEnvelope().MarshalLine()
	if err != nil {
		t.Fatalf("MarshalLine: unexpected error: %v", err)
	}
	if strings.Contains(string(line), `"meta"`) {
		t.Errorf("expected no meta key when Meta is empty, got %s", line)
	}
}

func TestMarshalLine_InvalidEnvelope(t *testing.T) {
	e := validEnvelope()
	e.Endpoint = ""
	if _, err := e.MarshalLine(); err == nil {
		t.Error("MarshalLine: expected error for invalid envelope")
	}
}
