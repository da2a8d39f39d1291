// Package testutil provides testing utilities for the KIS OpenAPI client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockKISResponse defines the behavior for a mock KIS endpoint response.
type MockKISResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockKIS is a configurable mock KIS OpenAPI server for testing. It issues
// tokens from /oauth2/tokenP out of the box and tracks per-path request
// counts so tests can assert on cache hits and 401 retries.
type MockKIS struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	TokenRequestCount int
	pathCounts        map[string]int
	LastRequestHeader http.Header
}

// NewMockKIS creates a new mock KIS server.
func NewMockKIS() *MockKIS {
	mock := &MockKIS{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.pathCounts[r.URL.Path]++
		if r.URL.Path == "/oauth2/tokenP" {
			mock.TokenRequestCount++
		}
		mock.LastRequestHeader = r.Header.Clone()
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockKIS) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockKIS) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockKIS) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.TokenRequestCount = 0
	m.pathCounts = make(map[string]int)
	m.LastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockKIS) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockKIS) SetResponse(path string, resp MockKISResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockKIS) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetTokenRequestCount returns the number of token issuance requests.
func (m *MockKIS) GetTokenRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenRequestCount
}

// GetPathCount returns the number of requests made to a specific path.
func (m *MockKIS) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// defaultHandler serves a token from the OAuth endpoint and a generic OK
// body everywhere else.
func (m *MockKIS) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if r.URL.Path == "/oauth2/tokenP" {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "mock-access-token",
			"token_type":   "Bearer",
			"expires_in":   86400,
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"rt_cd": "0", "msg1": "ok"}`))
}

// NewTokenResponse creates a standard token issuance response.
func NewTokenResponse(token string, expiresIn int) MockKISResponse {
	body, _ := json.Marshal(map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	})
	return MockKISResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewOutputResponse creates a 200 response with a single "output" object.
func NewOutputResponse(output map[string]any) MockKISResponse {
	body, _ := json.Marshal(map[string]any{
		"rt_cd":  "0",
		"output": output,
	})
	return MockKISResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewOutputListResponse creates a 200 response with an "output" list.
func NewOutputListResponse(output []map[string]any) MockKISResponse {
	body, _ := json.Marshal(map[string]any{
		"rt_cd":  "0",
		"output": output,
	})
	return MockKISResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockKISResponse {
	return MockKISResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  retryAfter,
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockKISResponse {
	return MockKISResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewUnauthorizedResponse creates a 401 response with a KIS error body.
func NewUnauthorizedResponse(description string) MockKISResponse {
	body, _ := json.Marshal(map[string]any{
		"error_code":        "EGW00123",
		"error_description": description,
	})
	return MockKISResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
