package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/timescale/hel/common/crypto"
	"github.com/timescale/hel/common/redact"
	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/herr"
)

// googleSACredentials mirrors the fields Hel needs out of a Google service
// account JSON key file; it deliberately ignores fields it does not use.
type googleSACredentials struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// googleSAProvider exchanges a signed JWT assertion for a Google OAuth2
// access token, following the standard service-account JWT bearer flow
// (spec §4.B google_service_account).
type googleSAProvider struct {
	creds      googleSACredentials
	subject    string
	scopes     string
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
	refreshHook func(token string, expiresAt time.Time)
}

func newGoogleSAProvider(spec config.AuthSpec) (Provider, error) {
	raw, err := os.ReadFile(spec.CredentialsFile)
	if err != nil {
		return nil, herr.New(herr.ConfigInvalid, "", fmt.Errorf("read google credentials file: %w", err))
	}
	var creds googleSACredentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, herr.New(herr.ConfigInvalid, "", fmt.Errorf("parse google credentials file: %w", err))
	}
	if creds.TokenURI == "" {
		creds.TokenURI = "https://oauth2.googleapis.com/token"
	}

	return &googleSAProvider{
		creds:      creds,
		subject:    spec.Subject,
		scopes:     strings.Join(spec.Scopes, " "),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (p *googleSAProvider) Prepare(ctx context.Context, method, url string) (Injection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken == "" || time.Now().After(p.expiresAt.Add(-30*time.Second)) {
		if err := p.refreshLocked(ctx); err != nil {
			return Injection{}, err
		}
	}
	return Injection{Headers: map[string]string{"Authorization": "Bearer " + p.accessToken}}, nil
}

func (p *googleSAProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = ""
	p.expiresAt = time.Time{}
}

func (p *googleSAProvider) loadCachedToken(token string, expiresAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = token
	p.expiresAt = expiresAt
}

func (p *googleSAProvider) onRefresh(fn func(token string, expiresAt time.Time)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshHook = fn
}

func (p *googleSAProvider) refreshLocked(ctx context.Context) error {
	signer, err := crypto.ParsePrivateKeyPEM([]byte(p.creds.PrivateKey))
	if err != nil {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("parse google service account key: %w", err))
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.creds.ClientEmail,
		Subject:   p.subject,
		Audience:  jwt.ClaimStrings{p.creds.TokenURI},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
	mc := jwt.MapClaims{
		"iss": claims.Issuer,
		"aud": p.creds.TokenURI,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if p.scopes != "" {
		mc["scope"] = p.scopes
	}
	if p.subject != "" {
		mc["sub"] = p.subject
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	assertion, err := token.SignedString(signer)
	if err != nil {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("sign google assertion: %w", err))
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.creds.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("build google token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("google token request: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		safeBody := redact.String(string(body), assertion)
		return herr.WithStatus("", resp.StatusCode, fmt.Errorf("google token endpoint returned %d: %s", resp.StatusCode, safeBody))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("parse google token response: %w", err))
	}

	p.accessToken = tok.AccessToken
	if tok.ExpiresIn > 0 {
		p.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	} else {
		p.expiresAt = time.Now().Add(55 * time.Minute)
	}
	if p.refreshHook != nil {
		hook, tok, exp := p.refreshHook, p.accessToken, p.expiresAt
		go hook(tok, exp)
	}
	return nil
}
