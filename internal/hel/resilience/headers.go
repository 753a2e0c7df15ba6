package resilience

import (
	"net/http"
	"strconv"
	"time"
)

// parseRetryAfter parses an HTTP Retry-After header value, which spec §4.D
// allows as either a delay in seconds or an HTTP-date (RFC 7231 §7.1.3).
func parseRetryAfter(raw string) (time.Duration, bool) {
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(raw); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// resetDelay computes reset-now from an X-RateLimit-Reset header (unix
// seconds), spec §4.D's fallback when no Retry-After is present.
func resetDelay(raw string) (time.Duration, bool) {
	if raw == "" {
		return 0, false
	}
	resetN, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	d := time.Until(time.Unix(resetN, 0))
	if d < 0 {
		d = 0
	}
	return d, true
}

// headerRetryDelay returns the respect_headers override for the next retry
// wait: Retry-After takes priority, falling back to X-RateLimit-Reset minus
// now (spec §4.D step 3). A nil or header-less h means no override.
func headerRetryDelay(h http.Header) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	if d, ok := parseRetryAfter(h.Get("Retry-After")); ok {
		return d, true
	}
	if d, ok := resetDelay(h.Get("X-RateLimit-Reset")); ok {
		return d, true
	}
	return 0, false
}
