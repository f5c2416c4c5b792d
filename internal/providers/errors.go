package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind categorizes a provider failure. The engine and callers branch on
// the kind, never on provider-specific strings.
type ErrorKind string

const (
	// KindTransport covers connection, DNS, and timeout failures.
	KindTransport ErrorKind = "transport"

	// KindDecode covers malformed or unexpected provider payloads.
	KindDecode ErrorKind = "decode"

	// KindAuth covers authentication and authorization failures (401, 403).
	KindAuth ErrorKind = "auth"

	// KindQuota covers rate limits and exhausted quotas (429, 402).
	KindQuota ErrorKind = "quota"

	// KindInvalidRequest covers client-side request errors (400, 404, 422).
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindProvider covers server-side provider failures with a
	// provider-supplied message.
	KindProvider ErrorKind = "provider"
)

// ProviderError is a structured error from an LLM provider bridge.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, " ")
}

// Unwrap exposes the underlying cause.
func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError builds a structured error.
func NewProviderError(kind ErrorKind, provider, model, message string, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Model: model, Message: message, Cause: cause}
}

// KindFromStatus maps an HTTP status code to an error kind.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		return KindQuota
	case status >= 400 && status < 500:
		return KindInvalidRequest
	case status >= 500:
		return KindProvider
	default:
		return KindTransport
	}
}

// AsProviderError coerces err into a *ProviderError, classifying generic
// transport and cancellation errors along the way.
func AsProviderError(err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	kind := KindProvider
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = KindTransport
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			kind = KindTransport
		}
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ProviderError{Kind: kind, Message: msg, Cause: err}
}
