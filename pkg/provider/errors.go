package provider

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a provider failure. The set is closed; every error leaving
// this package is one of these kinds.
type Kind string

const (
	KindProvider      Kind = "provider"
	KindRateLimit     Kind = "rate_limit"
	KindAuth          Kind = "auth"
	KindModelNotFound Kind = "model_not_found"
	KindCircuitOpen   Kind = "circuit_open"
)

// Error is the typed provider error
type Error struct {
	Kind       Kind
	Provider   string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Terminal reports whether the factory should fall back to the next model in
// the chain instead of retrying this provider.
func (e *Error) Terminal() bool {
	switch e.Kind {
	case KindAuth, KindModelNotFound, KindCircuitOpen:
		return true
	case KindRateLimit:
		return true
	default:
		return !e.Retryable
	}
}

// AsError extracts a *Error from err, or wraps err as a non-retryable
// provider error attributed to name.
func AsError(name string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindProvider, Provider: name, Err: err}
}

func newError(provider string, kind Kind, retryable bool, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Retryable: retryable, Err: err}
}

// statusError maps an HTTP status to the typed error set. 5xx is retryable;
// 429 surfaces as a rate limit and is never retried internally so the
// factory can fall back instead.
func statusError(provider string, status int, err error) *Error {
	switch {
	case status == 401 || status == 403:
		return newError(provider, KindAuth, false, err)
	case status == 404:
		return newError(provider, KindModelNotFound, false, err)
	case status == 429:
		return newError(provider, KindRateLimit, false, err)
	case status >= 500:
		return newError(provider, KindProvider, true, err)
	default:
		return newError(provider, KindProvider, false, err)
	}
}
