package domain

import (
	"errors"
	"fmt"
)

// FailureKind is the wire token identifying why a query could not produce a
// consensus result
type FailureKind string

const (
	FailInsufficientProviders FailureKind = "insufficient_providers"
	FailInsufficientResponses FailureKind = "insufficient_responses"
	FailUnsupportedMethod     FailureKind = "unsupported_method"
	FailTimeout               FailureKind = "timeout"
	FailProviderError         FailureKind = "provider_error"
)

// QueryError is the single fatal failure a query call can surface. It carries
// the raw responses that were available so callers can diagnose why consensus
// was not reached.
type QueryError struct {
	Kind         FailureKind
	Message      string
	RawResponses []Response
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewQueryError builds a QueryError with a formatted message
func NewQueryError(kind FailureKind, format string, args ...interface{}) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithResponses attaches the responses considered before the failure
func (e *QueryError) WithResponses(responses []Response) *QueryError {
	e.RawResponses = responses
	return e
}

// FailureKindOf extracts the wire kind from an error chain, defaulting to
// provider_error for anything that is not a QueryError
func FailureKindOf(err error) FailureKind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return FailProviderError
}

// IsFailure reports whether err is a QueryError of the given kind
func IsFailure(err error, kind FailureKind) bool {
	var qe *QueryError
	return errors.As(err, &qe) && qe.Kind == kind
}
