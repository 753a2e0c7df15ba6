package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/timescale/hel/common/crypto"
	"github.com/timescale/hel/common/redact"
	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/herr"
)

// oauth2Provider implements the oauth2 auth type: client_credentials or
// refresh_token grants against a configurable token endpoint, with an
// optional DPoP proof-of-possession header (spec §4.B).
//
// A token refresh is a single POST to the token endpoint; a failed refresh
// is returned to the caller and not retried here. The client assertion and
// DPoP proof JWTs use golang-jwt/jwt/v5's claims/SignedString idiom (seen
// pack-wide, e.g. streamspace's internal/auth/jwt.go).
type oauth2Provider struct {
	spec config.AuthSpec

	clientSecret string
	privateKey   *ecdsa.PrivateKey // dpop key, generated once when the provider is built; a rebuilt provider gets a new key

	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
	refreshHook func(token string, expiresAt time.Time)

	// nonces caches the most recent DPoP-Nonce a host has echoed back, per
	// RFC 9449 §8: a server that rejects a proof for lacking a nonce
	// returns one, and every later proof to that host must include it.
	nonces map[string]string
}

func newOAuth2Provider(spec config.AuthSpec) (Provider, error) {
	p := &oauth2Provider{
		spec:       spec,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}

	if spec.ClientSecretEnv != "" {
		secret, err := resolveSecret(spec.ClientSecretEnv, "")
		if err != nil {
			return nil, herr.New(herr.AuthFailed, "", fmt.Errorf("oauth2: %w", err))
		}
		p.clientSecret = secret
	}

	if spec.DPoP {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, herr.New(herr.AuthFailed, "", fmt.Errorf("oauth2 dpop keygen: %w", err))
		}
		p.privateKey = key
	}

	return p, nil
}

func (p *oauth2Provider) Prepare(ctx context.Context, method, targetURL string) (Injection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken == "" || time.Now().After(p.expiresAt.Add(-60*time.Second)) {
		if err := p.refreshLocked(ctx); err != nil {
			return Injection{}, err
		}
	}

	headers := map[string]string{"Authorization": "Bearer " + p.accessToken}
	if p.spec.DPoP {
		proof, err := p.buildDPoPProof(method, targetURL, p.accessToken)
		if err != nil {
			return Injection{}, herr.New(herr.AuthFailed, "", fmt.Errorf("oauth2 dpop proof: %w", err))
		}
		headers["DPoP"] = proof
	}
	return Injection{Headers: headers}, nil
}

// ObserveNonce records a server-issued DPoP-Nonce for targetURL's host, so
// the next proof built for that host echoes it back (spec §4.B, RFC 9449
// §8). It is a no-op when DPoP is disabled or the response carried no
// nonce.
func (p *oauth2Provider) ObserveNonce(targetURL string, headers http.Header) {
	if !p.spec.DPoP {
		return
	}
	nonce := headers.Get("DPoP-Nonce")
	if nonce == "" {
		return
	}
	host := hostOf(targetURL)
	if host == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nonces == nil {
		p.nonces = map[string]string{}
	}
	p.nonces[host] = nonce
}

func (p *oauth2Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = ""
	p.expiresAt = time.Time{}
}

// loadCachedToken seeds the provider from a previously persisted token
// (see tokenCache), so the first Prepare after a restart can skip the
// token endpoint entirely if the cached token is still valid.
func (p *oauth2Provider) loadCachedToken(token string, expiresAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = token
	p.expiresAt = expiresAt
}

func (p *oauth2Provider) onRefresh(fn func(token string, expiresAt time.Time)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshHook = fn
}

func (p *oauth2Provider) refreshLocked(ctx context.Context) error {
	form := url.Values{}
	form.Set("client_id", p.spec.ClientID)
	if len(p.spec.Scope) > 0 {
		form.Set("scope", strings.Join(p.spec.Scope, " "))
	}

	if p.spec.RefreshToken != "" {
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", p.spec.RefreshToken)
	} else {
		form.Set("grant_type", "client_credentials")
	}

	if p.clientSecret != "" {
		form.Set("client_secret", p.clientSecret)
	} else if p.spec.ClientPrivateKeyF != "" {
		assertion, err := p.buildClientAssertion()
		if err != nil {
			return herr.New(herr.AuthFailed, "", fmt.Errorf("oauth2 client assertion: %w", err))
		}
		form.Set("client_assertion_type", "urn:ietf:params:oauth:client-assertion-type:jwt-bearer")
		form.Set("client_assertion", assertion)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.spec.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("build token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.spec.DPoP {
		// No access token exists yet at the token endpoint, so this proof
		// carries no ath claim (spec §4.B: ath only applies to API
		// requests bearing the token it hashes).
		proof, err := p.buildDPoPProof(http.MethodPost, p.spec.TokenURL, "")
		if err != nil {
			return herr.New(herr.AuthFailed, "", fmt.Errorf("oauth2 dpop proof: %w", err))
		}
		req.Header.Set("DPoP", proof)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("token request: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		safeBody := redact.String(string(body), p.clientSecret, p.spec.RefreshToken)
		return herr.WithStatus("", resp.StatusCode, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, safeBody))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("parse token response: %w", err))
	}
	if tok.AccessToken == "" {
		return herr.New(herr.AuthFailed, "", fmt.Errorf("token response missing access_token"))
	}

	p.accessToken = tok.AccessToken
	if tok.ExpiresIn > 0 {
		p.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	} else {
		p.expiresAt = time.Now().Add(5 * time.Minute)
	}
	if p.refreshHook != nil {
		hook, tok, exp := p.refreshHook, p.accessToken, p.expiresAt
		go hook(tok, exp)
	}
	return nil
}

// buildClientAssertion implements private_key_jwt client authentication
// (RFC 7523): a JWT signed with the configured private key, asserting the
// client's own identity to the token endpoint.
func (p *oauth2Provider) buildClientAssertion() (string, error) {
	signer, err := crypto.LoadPrivateKeyFile(p.spec.ClientPrivateKeyF)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.spec.ClientID,
		Subject:   p.spec.ClientID,
		Audience:  jwt.ClaimStrings{p.spec.TokenURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Minute)),
		ID:        uuid.NewString(),
	}

	method, err := signingMethodFor(signer)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(method, claims)
	return token.SignedString(signer)
}

// buildDPoPProof builds an RFC 9449 DPoP proof JWT bound to the HTTP
// method and URL of the request it will accompany. accessToken, when
// non-empty, is hashed into the ath claim binding the proof to that
// specific token (RFC 9449 §4.3); callers must hold p.mu, since it reads
// p.nonces.
func (p *oauth2Provider) buildDPoPProof(method, targetURL, accessToken string) (string, error) {
	if p.privateKey == nil {
		return "", fmt.Errorf("dpop enabled but no key generated")
	}

	jwk, err := ecPublicJWK(&p.privateKey.PublicKey)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"htm": method,
		"htu": stripQuery(targetURL),
		"iat": time.Now().Unix(),
		"jti": uuid.NewString(),
	}
	if accessToken != "" {
		sum := sha256.Sum256([]byte(accessToken))
		claims["ath"] = base64.RawURLEncoding.EncodeToString(sum[:])
	}
	if host := hostOf(targetURL); host != "" && p.nonces[host] != "" {
		claims["nonce"] = p.nonces[host]
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = jwk
	return token.SignedString(p.privateKey)
}

// stripQuery drops the query string and fragment from raw, since htu must
// be the bare request URL without them (RFC 9449 §4.2). An unparsable URL
// is passed through unchanged.
func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// hostOf returns raw's host, or "" if raw does not parse.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func signingMethodFor(signer any) (jwt.SigningMethod, error) {
	switch signer.(type) {
	case *ecdsa.PrivateKey:
		return jwt.SigningMethodES256, nil
	default:
		return jwt.SigningMethodRS256, nil
	}
}

// ecPublicJWK renders an EC public key as the minimal JWK object DPoP
// proofs embed in their header.
func ecPublicJWK(pub *ecdsa.PublicKey) (map[string]string, error) {
	size := (pub.Curve.Params().BitSize + 7) / 8
	x := pub.X.Bytes()
	y := pub.Y.Bytes()
	xPadded := make([]byte, size)
	yPadded := make([]byte, size)
	copy(xPadded[size-len(x):], x)
	copy(yPadded[size-len(y):], y)

	return map[string]string{
		"kty": "EC",
		"crv": "P-256",
		"x":   base64.RawURLEncoding.EncodeToString(xPadded),
		"y":   base64.RawURLEncoding.EncodeToString(yPadded),
	}, nil
}
