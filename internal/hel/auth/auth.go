// Package auth implements the Auth Provider contract (spec §4.B): each
// source resolves a credential once per tick and injects it into the
// outbound request, refreshing or invalidating it as the HTTP Executor
// reports failures.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/timescale/hel/common/environment"
	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/herr"
)

// Injection carries what a Provider wants applied to the outbound request:
// headers to set and, for cookie-based auth, cookies to attach.
type Injection struct {
	Headers map[string]string
	Cookies []*http.Cookie
}

// Apply mutates req in place with the injection's headers and cookies.
func (inj Injection) Apply(req *http.Request) {
	for k, v := range inj.Headers {
		req.Header.Set(k, v)
	}
	for _, c := range inj.Cookies {
		req.AddCookie(c)
	}
}

// Provider resolves credentials for a single source. Implementations must
// be safe for concurrent use: the Scheduler may run distinct sources'
// providers concurrently, but a single source's provider is only ever
// invoked from one tick at a time.
type Provider interface {
	// Prepare returns the injection for the next outbound request. Cached
	// tokens are reused until they are near expiry or Invalidate is called.
	// method and url identify the request the injection will be applied
	// to; proof-of-possession schemes (DPoP) bind their proof to them.
	Prepare(ctx context.Context, method, url string) (Injection, error)

	// Invalidate discards any cached credential, forcing the next Prepare
	// to fetch a fresh one. Called after an auth_failed response.
	Invalidate()
}

// NonceObserver is implemented by providers whose proof scheme needs a
// server-issued nonce echoed back on later requests (oauth2 with DPoP).
// Callers type-assert for it after every response and feed it the
// response's headers; providers that don't need it simply don't
// implement the interface.
type NonceObserver interface {
	ObserveNonce(url string, headers http.Header)
}

// NewProvider builds the Provider for a source's AuthSpec. An empty Type
// yields a no-op provider (no credential).
func NewProvider(spec config.AuthSpec) (Provider, error) {
	switch spec.Type {
	case "", "none":
		return noopProvider{}, nil
	case "bearer":
		return newStaticHeaderProvider(spec, "bearer")
	case "apikey":
		return newStaticHeaderProvider(spec, "apikey")
	case "basic":
		return newBasicProvider(spec)
	case "oauth2":
		return newOAuth2Provider(spec)
	case "google_service_account":
		return newGoogleSAProvider(spec)
	case "login_cookie":
		return newLoginCookieProvider(spec)
	default:
		return nil, herr.New(herr.ConfigInvalid, "", fmt.Errorf("unknown auth type %q", spec.Type))
	}
}

type noopProvider struct{}

func (noopProvider) Prepare(context.Context, string, string) (Injection, error) {
	return Injection{}, nil
}
func (noopProvider) Invalidate() {}

// resolveSecret reads a secret from a file if one is configured, otherwise
// from the named environment variable. File takes precedence, matching the
// spec's "tokenFile overrides tokenEnv" rule for credential resolution.
func resolveSecret(envName, filePath string) (string, error) {
	if filePath != "" {
		raw, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("read secret file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	if envName == "" {
		return "", fmt.Errorf("neither secret file nor env var configured")
	}
	v, ok := environment.String(envName)
	if !ok || v == "" {
		return "", fmt.Errorf("environment variable %q is not set", envName)
	}
	return v, nil
}

// staticHeaderProvider implements bearer and apikey auth: a fixed secret
// resolved once at construction and replayed on every Prepare call. There
// is nothing to refresh, so Invalidate is a no-op.
type staticHeaderProvider struct {
	headerName string
	value      string
}

func newStaticHeaderProvider(spec config.AuthSpec, kind string) (Provider, error) {
	secret, err := resolveSecret(spec.TokenEnv, spec.TokenFile)
	if err != nil {
		return nil, herr.New(herr.AuthFailed, "", fmt.Errorf("%s auth: %w", kind, err))
	}

	headerName := spec.HeaderName
	value := secret
	switch kind {
	case "bearer":
		if headerName == "" {
			headerName = "Authorization"
		}
		prefix := spec.Prefix
		if prefix == "" {
			prefix = "Bearer"
		}
		value = prefix + " " + secret
	case "apikey":
		if headerName == "" {
			headerName = "X-Api-Key"
		}
	}
	return &staticHeaderProvider{headerName: headerName, value: value}, nil
}

func (p *staticHeaderProvider) Prepare(context.Context, string, string) (Injection, error) {
	return Injection{Headers: map[string]string{p.headerName: p.value}}, nil
}

func (p *staticHeaderProvider) Invalidate() {}

// basicProvider implements HTTP Basic auth with a static username and a
// password resolved from the environment.
type basicProvider struct {
	mu       sync.Mutex
	username string
	password string
}

func newBasicProvider(spec config.AuthSpec) (Provider, error) {
	if spec.Username == "" {
		return nil, herr.New(herr.ConfigInvalid, "", fmt.Errorf("basic auth requires username"))
	}
	password, err := resolveSecret(spec.PasswordEnv, "")
	if err != nil {
		return nil, herr.New(herr.AuthFailed, "", fmt.Errorf("basic auth: %w", err))
	}
	return &basicProvider{username: spec.Username, password: password}, nil
}

func (p *basicProvider) Prepare(context.Context, string, string) (Injection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, _ := http.NewRequest(http.MethodGet, "http://unused", nil)
	req.SetBasicAuth(p.username, p.password)
	return Injection{Headers: map[string]string{"Authorization": req.Header.Get("Authorization")}}, nil
}

func (p *basicProvider) Invalidate() {}
