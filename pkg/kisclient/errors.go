package kisclient

import (
	"errors"
	"fmt"
)

// ErrNoToken is returned by Current when no token has been acquired yet.
var ErrNoToken = errors.New("no access token held")

// AuthenticationError indicates the credential exchange was rejected
// upstream (HTTP 401 on the token endpoint).
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return "authentication failed"
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// RateLimitError indicates upstream-imposed throttling (HTTP 429).
// It is surfaced to the caller, never silently retried by the core.
type RateLimitError struct {
	// RetryAfter is the wait in seconds read from the Retry-After header.
	RetryAfter int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfter)
}

// NotFoundError indicates the requested entity is absent upstream (HTTP 404).
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	if e.Resource == "" {
		return "requested data not found"
	}
	return fmt.Sprintf("requested data not found: %s", e.Resource)
}

// UpstreamError is the catch-all for non-2xx responses and transport-level
// failures. Body carries the best-effort parsed error payload (empty when
// the response was not JSON); Err carries the transport cause when present.
type UpstreamError struct {
	StatusCode int
	Body       map[string]any
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("upstream request failed with status %d", e.StatusCode)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// ValidationError indicates malformed query parameters, rejected before
// any I/O.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid parameters: %s", e.Message)
	}
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Message)
}

// errorClass labels an error for metrics.
func errorClass(err error) string {
	var authErr *AuthenticationError
	var rateErr *RateLimitError
	var notFoundErr *NotFoundError
	var upstreamErr *UpstreamError
	var validationErr *ValidationError

	switch {
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &rateErr):
		return "rate_limit"
	case errors.As(err, &notFoundErr):
		return "not_found"
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &upstreamErr):
		if upstreamErr.Err != nil {
			return "network"
		}
		return "upstream"
	default:
		return "unknown"
	}
}
