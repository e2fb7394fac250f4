package providers

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of call failures. Kinds drive retry,
// circuit and key-rotation decisions; per-call errors are recorded, not
// propagated.
type ErrorKind string

const (
	// KindAuth is an invalid or expired key. The caller rotates the
	// key; auth failures do not count toward the circuit threshold.
	KindAuth ErrorKind = "auth"

	// KindRateLimited is a provider 429 or equivalent.
	KindRateLimited ErrorKind = "rate_limited"

	// KindTransient covers network errors, timeouts, 408 and 5xx.
	KindTransient ErrorKind = "transient"

	// KindNonRetryable covers 400, 404 and malformed responses.
	KindNonRetryable ErrorKind = "non_retryable"

	// KindProviderUnavailable means the circuit is open; the tensor
	// element is marked missing without an outbound call.
	KindProviderUnavailable ErrorKind = "provider_unavailable"
)

// Retryable reports whether a call failing with this kind may be
// attempted again within the same tensor element.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindTransient
}

// CallError is the uniform failure result of a provider call.
type CallError struct {
	// Provider is the catalog id of the provider.
	Provider string

	// Kind classifies the failure.
	Kind ErrorKind

	// StatusCode is the HTTP status, 0 for network-level failures.
	StatusCode int

	// Message is a short description.
	Message string

	// Body holds the captured error response body (truncated) for the
	// event log.
	Body string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q call failed (%s, status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %q call failed (%s): %s", e.Provider, e.Kind, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// AsCallError extracts a *CallError from an error chain. Errors that
// are not CallErrors (context cancellation mid-call, for instance) are
// wrapped as transient so the taxonomy stays closed.
func AsCallError(providerID string, err error) *CallError {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce
	}
	return &CallError{
		Provider: providerID,
		Kind:     KindTransient,
		Message:  err.Error(),
		Cause:    err,
	}
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimited
	case status == 408 || status >= 500:
		return KindTransient
	default:
		return KindNonRetryable
	}
}
