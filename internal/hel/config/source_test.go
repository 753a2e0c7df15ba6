package config_test

import (
	"testing"

	"github.com/timescale/hel/internal/hel/config"
)

func validSource() *config.Source {
	return &config.Source{
		ID:     "okta",
		URL:    "https://example.okta.com/api/v1/logs",
		Method: "GET",
		Auth:   config.AuthSpec{Type: "bearer", TokenEnv: "OKTA_TOKEN"},
		Pagination: config.PaginationSpec{
			LinkHeader: &config.LinkHeaderSpec{},
		},
		Schedule: config.ScheduleSpec{IntervalSecs: 60},
	}
}

func TestSource_Validate_Valid(t *testing.T) {
	if err := validSource().Validate(); err != nil {
		t.Errorf("Validate: unexpected error: %v", err)
	}
}

func TestSource_Validate_EmptyURL(t *testing.T) {
	s := validSource()
	s.URL = ""
	if err := s.Validate(); err == nil {
		t.Error("Validate: expected error for empty url")
	}
}

func TestSource_Validate_BadMethod(t *testing.T) {
	s := validSource()
	s.Method = "DELETE"
	if err := s.Validate(); err == nil {
		t.Error("Validate: expected error for method=DELETE")
	}
}

func TestSource_Validate_POSTBodyNotJSON(t *testing.T) {
	s := validSource()
	s.Method = "POST"
	s.Body = []byte("not json")
	if err := s.Validate(); err == nil {
		t.Error("Validate: expected error for non-JSON POST body")
	}
}

func TestSource_Validate_POSTBodyValidJSON(t *testing.T) {
	s := validSource()
	s.Method = "POST"
	s.Body = []byte(`{"limit":100}`)
	if err := s.Validate(); err != nil {
		t.Errorf("Validate: unexpected error: %v", err)
	}
}

func TestSource_Validate_OAuth2RequiresSecretOrKey(t *testing.T) {
	s := validSource()
	s.Auth = config.AuthSpec{
		Type:     "oauth2",
		TokenURL: "https://idp.example.com/token",
		ClientID: "abc",
	}
	if err := s.Validate(); err == nil {
		t.Error("Validate: expected error when oauth2 has neither client_secret nor client_private_key")
	}
}

func TestSource_Validate_TLSClientCertRequiresKey(t *testing.T) {
	s := validSource()
	s.TLS = config.TLSSpec{ClientCert: "/etc/hel/client.crt"}
	if err := s.Validate(); err == nil {
		t.Error("Validate: expected error when clientCert set without clientKey")
	}
}

func TestSource_Validate_BothCursorAndLinkHeaderRejected(t *testing.T) {
	s := validSource()
	s.Pagination = config.PaginationSpec{
		LinkHeader: &config.LinkHeaderSpec{},
		Cursor:     &config.CursorSpec{CursorPath: "next", CursorParam: "cursor"},
	}
	if err := s.Validate(); err == nil {
		t.Error("Validate: expected error when both cursor and linkHeader are set")
	}
}

func TestSource_Validate_PriorityOutOfRange(t *testing.T) {
	s := validSource()
	s.Priority = 11
	if err := s.Validate(); err == nil {
		t.Error("Validate: expected error for priority > 10")
	}
}

func TestSource_Validate_ZeroInterval(t *testing.T) {
	s := validSource()
	s.Schedule.IntervalSecs = 0
	if err := s.Validate(); err == nil {
		t.Error("Validate: expected error for zero intervalSecs")
	}
}

func TestSource_LabelValue_DefaultsToID(t *testing.T) {
	s := validSource()
	if got := s.LabelValue(); got != "okta" {
		t.Errorf("LabelValue: got %q, want %q", got, "okta")
	}
}

func TestSource_LabelValue_Override(t *testing.T) {
	s := validSource()
	s.SourceLabel.Value = "okta-prod"
	if got := s.LabelValue(); got != "okta-prod" {
		t.Errorf("LabelValue: got %q, want %q", got, "okta-prod")
	}
}

func TestSource_PollTickTimeout_Default(t *testing.T) {
	s := validSource()
	if got := s.PollTickTimeout(); got.Seconds() != 30 {
		t.Errorf("PollTickTimeout: got %v, want 30s", got)
	}
}
