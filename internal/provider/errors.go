package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure codes observable on a *provider.Error
const (
	ErrCodeTimeout     = "TIMEOUT"
	ErrCodeUnsupported = "UNSUPPORTED"
	ErrCodeUpstream    = "UPSTREAM"
	ErrCodeRateLimit   = "RATE_LIMIT"
	ErrCodeMalformed   = "MALFORMED"
	ErrCodeCircuitOpen = "CIRCUIT_OPEN"
)

// Error represents provider-specific failures. The fanout engine only cares
// that a fetch failed; the code, flags and cause feed metrics and logs.
type Error struct {
	Provider    string `json:"provider"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	HTTPStatus  int    `json:"http_status,omitempty"`
	RateLimited bool   `json:"rate_limited"`
	Temporary   bool   `json:"temporary"`
	Cause       error  `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s (%s)", e.Provider, e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewTimeoutError marks a fetch abandoned at its deadline
func NewTimeoutError(provider string, cause error) *Error {
	return &Error{
		Provider:  provider,
		Code:      ErrCodeTimeout,
		Message:   "request deadline exceeded",
		Temporary: true,
		Cause:     cause,
	}
}

// NewUnsupportedError marks a query the provider cannot answer
func NewUnsupportedError(provider, message string) *Error {
	return &Error{
		Provider: provider,
		Code:     ErrCodeUnsupported,
		Message:  message,
	}
}

// NewUpstreamError marks an upstream transport or status failure
func NewUpstreamError(provider string, status int, message string) *Error {
	return &Error{
		Provider:    provider,
		Code:        ErrCodeUpstream,
		Message:     message,
		HTTPStatus:  status,
		RateLimited: status == http.StatusTooManyRequests,
		Temporary:   status == 0 || status >= http.StatusInternalServerError || status == http.StatusTooManyRequests,
	}
}

// NewRateLimitError marks a fetch rejected by local or upstream throttling
func NewRateLimitError(provider string, cause error) *Error {
	return &Error{
		Provider:    provider,
		Code:        ErrCodeRateLimit,
		Message:     "rate limit exceeded",
		RateLimited: true,
		Temporary:   true,
		Cause:       cause,
	}
}

// NewMalformedError marks an unparseable upstream payload
func NewMalformedError(provider string, cause error) *Error {
	return &Error{
		Provider:  provider,
		Code:      ErrCodeMalformed,
		Message:   "malformed upstream payload",
		Cause:     cause,
	}
}

// CodeOf extracts the failure code from an error chain, defaulting to
// UPSTREAM for plain errors
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeUpstream
}

// IsRateLimited reports whether the error chain carries a throttling failure
func IsRateLimited(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.RateLimited
}
