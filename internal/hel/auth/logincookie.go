package auth

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/timescale/hel/common/environment"
	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/herr"
)

// loginCookieProvider POSTs a login body to a login endpoint and replays
// whatever Set-Cookie headers come back on every subsequent request, for
// APIs that only support session-cookie auth (spec §4.B login_cookie).
type loginCookieProvider struct {
	loginURL   string
	loginBody  []byte
	httpClient *http.Client

	mu      sync.Mutex
	cookies []*http.Cookie
}

func newLoginCookieProvider(spec config.AuthSpec) (Provider, error) {
	if spec.LoginURL == "" {
		return nil, herr.New(herr.ConfigInvalid, "", fmt.Errorf("login_cookie auth requires loginUrl"))
	}

	var body []byte
	switch {
	case spec.LoginBodyFile != "":
		raw, err := os.ReadFile(spec.LoginBodyFile)
		if err != nil {
			return nil, herr.New(herr.ConfigInvalid, "", fmt.Errorf("read login body file: %w", err))
		}
		body = raw
	case spec.LoginBodyEnv != "":
		v, ok := environment.String(spec.LoginBodyEnv)
		if !ok || v == "" {
			return nil, herr.New(herr.ConfigInvalid, "", fmt.Errorf("environment variable %q is not set", spec.LoginBodyEnv))
		}
		body = []byte(v)
	default:
		return nil, herr.New(herr.ConfigInvalid, "", fmt.Errorf("login_cookie auth requires loginBodyFile or loginBodyEnv"))
	}

	return &loginCookieProvider{
		loginURL:   spec.LoginURL,
		loginBody:  body,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (p *loginCookieProvider) Prepare(ctx context.Context, method, url string) (Injection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.cookies) == 0 {
		if err := p.loginLocked(ctx); err != nil {
			return Injection{}, err
		}
	}
	return Injection{Cookies: p.cookies}, nil
}

func (p *loginCookieProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = nil
}

func (p *loginCookieProvider) loginLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.loginURL, bytes.NewReader(p.loginBody))
	if err != nil {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("build login request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("login request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return herr.WithStatus("", resp.StatusCode, fmt.Errorf("login endpoint returned %d", resp.StatusCode))
	}

	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("login response set no cookies"))
	}
	p.cookies = cookies
	return nil
}
