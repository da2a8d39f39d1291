package kisclient

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", &AuthenticationError{Message: "bad key"}, "auth"},
		{"rate limit", &RateLimitError{RetryAfter: 60}, "rate_limit"},
		{"not found", &NotFoundError{Resource: "/x"}, "not_found"},
		{"validation", &ValidationError{Field: "market"}, "validation"},
		{"network", &UpstreamError{Err: errors.New("dial refused")}, "network"},
		{"upstream", &UpstreamError{StatusCode: 500}, "upstream"},
		{"wrapped auth", fmt.Errorf("fetch: %w", &AuthenticationError{}), "auth"},
		{"unknown", errors.New("whatever"), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorClass(tt.err); got != tt.want {
				t.Errorf("errorClass() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpstreamError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &UpstreamError{Err: cause}
	if !errors.Is(err, cause) {
		t.Error("UpstreamError should unwrap to its cause")
	}
}
