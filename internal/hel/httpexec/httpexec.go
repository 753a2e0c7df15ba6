// Package httpexec implements the HTTP Executor (spec §4.C): a single
// attempt at sending one HTTP request, with connect/read/TLS timeouts,
// TLS configuration (min version, custom CA, mTLS client cert), and error
// classification. Retries, rate limiting, and circuit breaking live one
// layer up in internal/hel/resilience — the Executor itself never retries.
package httpexec

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/timescale/hel/internal/hel/config"
	"github.com/timescale/hel/internal/hel/herr"
)

// Request is the fully-resolved outbound request for one attempt: method,
// URL, headers, and body already merged with auth injection and any hook
// overrides.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is what the Executor reports back for a single attempt.
type Response struct {
	Status      int
	Headers     http.Header
	Body        []byte
	BodyBytes   int64
	Elapsed     time.Duration
	Truncated   bool
}

// Doer is the one method internal/hel/resilience needs from something
// that sends a Request and returns a Response: the live Executor in
// normal operation, or internal/hel/replay's fixture-backed substitute
// when a source runs in replay mode (spec §4.K).
type Doer interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// Executor sends one request at a time over a client tuned from a
// source's ResilienceSpec and TLSSpec.
type Executor struct {
	client          *http.Client
	maxResponseByte int64
}

// New builds an Executor for a source. It is grounded on the teacher's
// forward() helper (internal/ruriko/webhook/proxy.go): a single
// *http.Client carrying a request timeout, with the response body always
// drained and capped.
func New(res config.ResilienceSpec, tlsSpec config.TLSSpec, maxResponseBytes int64) (*Executor, error) {
	tlsConfig, err := buildTLSConfig(tlsSpec)
	if err != nil {
		return nil, fmt.Errorf("build tls config: %w", err)
	}

	connectTimeout := time.Duration(res.ConnectTimeoutSecs) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	readTimeout := time.Duration(res.ReadTimeoutSecs) * time.Second
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	requestTimeout := time.Duration(res.RequestTimeoutSecs) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = connectTimeout + readTimeout
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		ResponseHeaderTimeout: readTimeout,
		TLSHandshakeTimeout:   connectTimeout,
	}

	if maxResponseBytes <= 0 {
		maxResponseBytes = 32 << 20
	}

	return &Executor{
		client:          &http.Client{Transport: transport, Timeout: requestTimeout},
		maxResponseByte: maxResponseBytes,
	}, nil
}

func buildTLSConfig(spec config.TLSSpec) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	switch spec.MinVersion {
	case "", "1.2":
		cfg.MinVersion = tls.VersionTLS12
	case "1.3":
		cfg.MinVersion = tls.VersionTLS13
	default:
		return nil, fmt.Errorf("unsupported tls minVersion %q", spec.MinVersion)
	}

	if spec.CAFile != "" {
		pem, err := os.ReadFile(spec.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if spec.CAMode == "merge" {
			sys, err := x509.SystemCertPool()
			if err == nil && sys != nil {
				pool = sys
			}
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from ca file")
		}
		cfg.RootCAs = pool
	}

	if spec.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(spec.ClientCert, spec.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// Do performs one HTTP attempt. Any transport-level failure is returned as
// herr.TickDeadlineExceeded when ctx is already done, and otherwise as
// herr.Network, with the message naming the cause (timeout, dns, tls
// verification, connect, or a generic request failure). HTTP status
// codes, including 4xx/5xx, are returned as a normal Response — it is the
// caller's (resilience package's) job to decide whether a status is
// retryable.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, herr.New(herr.Network, "", fmt.Errorf("build request: %w", err))
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, e.maxResponseByte+1)
	body, readErr := io.ReadAll(limited)
	if readErr != nil {
		return nil, herr.New(herr.Network, "", fmt.Errorf("read response body: %w", readErr))
	}

	truncated := false
	if int64(len(body)) > e.maxResponseByte {
		body = body[:e.maxResponseByte]
		truncated = true
	}

	return &Response{
		Status:    resp.StatusCode,
		Headers:   resp.Header,
		Body:      body,
		BodyBytes: int64(len(body)),
		Elapsed:   elapsed,
		Truncated: truncated,
	}, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return herr.New(herr.TickDeadlineExceeded, "", ctx.Err())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return herr.New(herr.Network, "", fmt.Errorf("request timed out: %w", err))
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return herr.New(herr.Network, "", fmt.Errorf("dns resolution failed: %w", err))
	}

	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return herr.New(herr.Network, "", fmt.Errorf("tls verification failed: %w", err))
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return herr.New(herr.Network, "", fmt.Errorf("connect failed: %w", err))
	}

	return herr.New(herr.Network, "", fmt.Errorf("request failed: %w", err))
}
