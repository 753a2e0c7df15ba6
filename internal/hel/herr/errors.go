// Package herr defines the error taxonomy Hel surfaces to its callers (the
// scheduler, the health endpoint, and — outside this module's scope — the
// REST management API and CLI).
package herr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way spec §6 enumerates them. Callers match on
// Kind rather than parsing error strings.
type Kind string

const (
	ConfigInvalid        Kind = "config_invalid"
	Network              Kind = "network"
	HTTPStatus           Kind = "http_status"
	AuthFailed           Kind = "auth_failed"
	CircuitOpen          Kind = "circuit_open"
	RateLimited          Kind = "rate_limited"
	ParseError           Kind = "parse_error"
	StateWrite           Kind = "state_write"
	HookError            Kind = "hook_error"
	HookTimeout          Kind = "hook_timeout"
	ReplayMiss           Kind = "replay_miss"
	TickDeadlineExceeded Kind = "tick_deadline_exceeded"
	OutputWrite          Kind = "output_write"
)

// Error is the concrete error type carried through the poll engine. It wraps
// an underlying cause and attaches the context (source, HTTP status) that
// the health surface and logs need.
type Error struct {
	Kind       Kind
	SourceID   string
	HTTPStatus int // zero unless Kind == HTTPStatus
	Cause      error
}

func (e *Error) Error() string {
	if e.SourceID == "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
		}
		return string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %v", e.Kind, e.SourceID, e.Cause)
	}
	return fmt.Sprintf("%s[%s]", e.Kind, e.SourceID)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a *Error of the given kind for sourceID, wrapping cause.
func New(kind Kind, sourceID string, cause error) *Error {
	return &Error{Kind: kind, SourceID: sourceID, Cause: cause}
}

// WithStatus builds a Kind=HTTPStatus error carrying the response status code.
func WithStatus(sourceID string, status int, cause error) *Error {
	return &Error{Kind: HTTPStatus, SourceID: sourceID, HTTPStatus: status, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) a *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
