// Package kisclient provides the authenticated, rate-limited HTTP client
// for the Korea Investment & Securities (KIS) OpenAPI.
package kisclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/whdghk1907/mcp-price-ranking/pkg/logging"
	"github.com/whdghk1907/mcp-price-ranking/pkg/ratelimit"
)

// Prometheus metrics for KIS client operations.
var (
	kisRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kis_requests_total",
		Help: "Total KIS requests by endpoint and status",
	}, []string{"endpoint", "status"})

	kisRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kis_request_duration_seconds",
		Help:    "KIS request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	kisErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kis_errors_total",
		Help: "Total KIS errors by class",
	}, []string{"class"})

	kisAuthRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kis_auth_retries_total",
		Help: "Total single-shot 401 retries issued by the pipeline",
	})
)

// Config holds the client configuration.
type Config struct {
	// AppKey and AppSecret are the KIS application credentials.
	AppKey    string
	AppSecret string

	// BaseURL is the KIS OpenAPI host.
	BaseURL string

	// HTTPTimeout bounds each outbound call. Upstream hangs surface as
	// an upstream error after this elapses.
	HTTPTimeout time.Duration

	// RateLimit configures the outbound request gate.
	RateLimit ratelimit.Config

	// UserAgent for all outbound requests.
	UserAgent string
}

// DefaultConfig returns a safe default configuration for the given
// credentials.
func DefaultConfig(appKey, appSecret string) Config {
	return Config{
		AppKey:      appKey,
		AppSecret:   appSecret,
		BaseURL:     DefaultBaseURL,
		HTTPTimeout: 30 * time.Second,
		RateLimit:   ratelimit.DefaultConfig(),
		UserAgent:   "mcp-price-ranking/1.0",
	}
}

// Client is the KIS OpenAPI request pipeline. It composes the token
// manager and the rate limit gate, and maps upstream failures to the
// typed error taxonomy.
type Client struct {
	httpClient *http.Client
	tokens     *TokenManager
	limiter    *ratelimit.Limiter
	baseURL    string
	userAgent  string
	logger     zerolog.Logger
}

// New creates a new KIS client.
func New(cfg Config) (*Client, error) {
	if cfg.AppKey == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("app key and app secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "mcp-price-ranking/1.0"
	}

	logger := logging.NewLogger("kis-client")
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	limiter := ratelimit.New(cfg.RateLimit, logging.NewLogger("kis-ratelimit"))
	tokens := NewTokenManager(httpClient, cfg.BaseURL, cfg.AppKey, cfg.AppSecret, logging.NewLogger("kis-token"))
	// Authentication calls pass through the same gate as data calls.
	tokens.gate = limiter.Acquire

	return &Client{
		httpClient: httpClient,
		tokens:     tokens,
		limiter:    limiter,
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		logger:     logger,
	}, nil
}

// Tokens exposes the token manager (for wiring and tests).
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Request issues an authenticated call against the KIS OpenAPI and returns
// the parsed JSON body.
//
// Pipeline: ensure a live token, pass the rate limit gate, issue the call
// with bearer auth. A 401 triggers exactly one re-authentication and one
// retried request; a second failure surfaces as an upstream error with the
// retry's status. 429 maps to a rate limit error carrying Retry-After,
// 404 to not-found, all other non-2xx and transport failures to upstream
// errors.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, body any, headers map[string]string) (map[string]any, error) {
	start := time.Now()
	defer func() {
		kisRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	token, err := c.tokens.Ensure(ctx)
	if err != nil {
		c.countError(path, err)
		return nil, err
	}

	resp, err := c.issue(ctx, method, path, params, body, headers, token)
	if err != nil {
		c.countError(path, err)
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()

		// Exactly one retry: swap the rejected token for a live one and
		// reissue once. Refresh reuses a replacement another request
		// already obtained, so parallel 401s share one exchange.
		kisAuthRetriesTotal.Inc()
		c.logger.Warn().Str("endpoint", path).Msg("Got 401, refreshing token once")

		token, err = c.tokens.Refresh(ctx, token)
		if err != nil {
			c.countError(path, err)
			return nil, err
		}

		resp, err = c.issue(ctx, method, path, params, body, headers, token)
		if err != nil {
			c.countError(path, err)
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			upErr := &UpstreamError{StatusCode: resp.StatusCode, Body: decodeErrorBody(resp)}
			c.logger.Error().
				Str("endpoint", path).
				Int("status", resp.StatusCode).
				Msg("Request failed after 401 retry")
			c.countError(path, upErr)
			return nil, upErr
		}
	}
	defer resp.Body.Close()

	result, err := c.handleResponse(path, resp)
	if err != nil {
		c.countError(path, err)
		return nil, err
	}

	kisRequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()
	return result, nil
}

// Get issues an authenticated GET with query parameters.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	return c.Request(ctx, http.MethodGet, path, params, nil, nil)
}

// issue performs a single gated HTTP call with the given token.
func (c *Client) issue(ctx context.Context, method, path string, params url.Values, body any, headers map[string]string, token Token) (*http.Response, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug().
		Str("endpoint", path).
		Str("method", method).
		Msg("Issuing KIS request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kisRequestsTotal.WithLabelValues(path, "network_error").Inc()
		return nil, &UpstreamError{Err: err}
	}
	return resp, nil
}

// handleResponse maps a non-401 response to a parsed body or typed error.
func (c *Client) handleResponse(path string, resp *http.Response) (map[string]any, error) {
	switch {
	case resp.StatusCode == http.StatusOK:
		var result map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
		return result, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 60
		if v := resp.Header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				retryAfter = n
			}
		}
		kisRequestsTotal.WithLabelValues(path, "429").Inc()
		return nil, &RateLimitError{RetryAfter: retryAfter}

	case resp.StatusCode == http.StatusNotFound:
		kisRequestsTotal.WithLabelValues(path, "404").Inc()
		return nil, &NotFoundError{Resource: path}

	default:
		kisRequestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: decodeErrorBody(resp)}
	}
}

func (c *Client) countError(endpoint string, err error) {
	class := errorClass(err)
	kisErrorsTotal.WithLabelValues(class).Inc()
	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("error_class", class).
		Msg("Request error")
}
