package config

import "fmt"

// ResilienceSpec configures timeouts, retries, the circuit breaker, and the
// rate limiter around the HTTP Executor (spec §4.D).
type ResilienceSpec struct {
	ConnectTimeoutSecs int `yaml:"connectTimeoutSecs,omitempty" json:"connectTimeoutSecs,omitempty"`
	ReadTimeoutSecs    int `yaml:"readTimeoutSecs,omitempty" json:"readTimeoutSecs,omitempty"`
	RequestTimeoutSecs int `yaml:"requestTimeoutSecs,omitempty" json:"requestTimeoutSecs,omitempty"`

	MaxAttempts          int     `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	InitialBackoffMillis int     `yaml:"initialBackoffMillis,omitempty" json:"initialBackoffMillis,omitempty"`
	MaxBackoffMillis     int     `yaml:"maxBackoffMillis,omitempty" json:"maxBackoffMillis,omitempty"`
	BackoffMultiplier    float64 `yaml:"backoffMultiplier,omitempty" json:"backoffMultiplier,omitempty"`
	JitterFraction       float64 `yaml:"jitterFraction,omitempty" json:"jitterFraction,omitempty"`
	RetryableStatusCodes []int   `yaml:"retryableStatusCodes,omitempty" json:"retryableStatusCodes,omitempty"`
	RespectHeaders       bool    `yaml:"respectHeaders,omitempty" json:"respectHeaders,omitempty"`

	CircuitBreaker CircuitBreakerSpec `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	RateLimit      RateLimitSpec      `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`

	PageDelaySecs float64 `yaml:"pageDelaySecs,omitempty" json:"pageDelaySecs,omitempty"`
}

type CircuitBreakerSpec struct {
	FailureThreshold     int     `yaml:"failureThreshold,omitempty" json:"failureThreshold,omitempty"`
	FailureRateThreshold float64 `yaml:"failureRateThreshold,omitempty" json:"failureRateThreshold,omitempty"`
	MinimumRequests      int     `yaml:"minimumRequests,omitempty" json:"minimumRequests,omitempty"`
	SuccessThreshold     int     `yaml:"successThreshold,omitempty" json:"successThreshold,omitempty"`
	HalfOpenTimeoutSecs  int     `yaml:"halfOpenTimeoutSecs,omitempty" json:"halfOpenTimeoutSecs,omitempty"`
	ResetTimeoutSecs     int     `yaml:"resetTimeoutSecs,omitempty" json:"resetTimeoutSecs,omitempty"`
}

type RateLimitSpec struct {
	MaxRequestsPerSecond float64 `yaml:"maxRequestsPerSecond,omitempty" json:"maxRequestsPerSecond,omitempty"`
	BurstSize            int     `yaml:"burstSize,omitempty" json:"burstSize,omitempty"`
	Adaptive             bool    `yaml:"adaptive,omitempty" json:"adaptive,omitempty"`
}

func (r *ResilienceSpec) Validate() error {
	if r.MaxAttempts < 0 {
		return fmt.Errorf("maxAttempts must be >= 0")
	}
	if r.BackoffMultiplier < 0 {
		return fmt.Errorf("backoffMultiplier must be >= 0")
	}
	if r.JitterFraction < 0 || r.JitterFraction > 1 {
		return fmt.Errorf("jitterFraction must be between 0 and 1")
	}
	if r.CircuitBreaker.FailureRateThreshold < 0 || r.CircuitBreaker.FailureRateThreshold > 1 {
		return fmt.Errorf("circuitBreaker.failureRateThreshold must be between 0 and 1")
	}
	if r.RateLimit.MaxRequestsPerSecond < 0 {
		return fmt.Errorf("rateLimit.maxRequestsPerSecond must be >= 0")
	}
	return nil
}

// IsRetryableStatus reports whether status is in RetryableStatusCodes; when
// that list is empty it falls back to 408, 429, and any status >= 500.
func (r *ResilienceSpec) IsRetryableStatus(status int) bool {
	if len(r.RetryableStatusCodes) > 0 {
		for _, c := range r.RetryableStatusCodes {
			if c == status {
				return true
			}
		}
		return false
	}
	return status == 408 || status == 429 || status >= 500
}
