package kisclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var kisTokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kis_token_refreshes_total",
	Help: "Total successful OAuth token acquisitions",
})

// Token is the OAuth access token issued by the KIS token endpoint.
// Tokens are replaced, never mutated.
type Token struct {
	AccessToken string
	TokenType   string
	IssuedAt    time.Time
	ExpiresIn   int // seconds
}

// ExpiresAt returns the absolute expiry time.
func (t Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Expired reports whether the token is expired at the given instant.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt())
}

// tokenResponse is the wire shape of POST /oauth2/tokenP.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// TokenManager owns OAuth client-credentials token acquisition, expiry
// tracking, and refresh-on-demand. Refresh is always triggered lazily by
// the request pipeline; there is no background refresh.
type TokenManager struct {
	httpClient *http.Client
	baseURL    string
	appKey     string
	appSecret  string
	logger     zerolog.Logger

	// gate, when set, is awaited before the token request goes out.
	// The client wires the rate limit gate here so authentication calls
	// consume an admission like any other outbound request.
	gate func(ctx context.Context) error

	mu    sync.Mutex
	token *Token

	now func() time.Time
}

// NewTokenManager creates a token manager for the given credentials.
func NewTokenManager(httpClient *http.Client, baseURL, appKey, appSecret string, logger zerolog.Logger) *TokenManager {
	return &TokenManager{
		httpClient: httpClient,
		baseURL:    baseURL,
		appKey:     appKey,
		appSecret:  appSecret,
		logger:     logger,
		now:        time.Now,
	}
}

// Current returns the held token, or ErrNoToken if none has been acquired.
func (m *TokenManager) Current() (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil {
		return Token{}, ErrNoToken
	}
	return *m.token, nil
}

// IsExpired reports whether no token is held or the held token is expired.
func (m *TokenManager) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiredLocked()
}

func (m *TokenManager) expiredLocked() bool {
	return m.token == nil || m.token.Expired(m.now())
}

// Ensure returns a live token, authenticating first if the held token is
// absent or expired. The manager mutex serializes refreshes: concurrent
// callers that observe an expired token converge on a single in-flight
// authentication and all receive its result.
func (m *TokenManager) Ensure(ctx context.Context) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.expiredLocked() {
		return *m.token, nil
	}
	return m.authenticateLocked(ctx)
}

// Authenticate performs the OAuth client-credentials exchange regardless of
// the held token's state, replacing it on success.
func (m *TokenManager) Authenticate(ctx context.Context) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticateLocked(ctx)
}

// Revoke invalidates the held token upstream and drops it. Without a held
// token this is a no-op.
func (m *TokenManager) Revoke(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"appkey":    m.appKey,
		"appsecret": m.appSecret,
		"token":     m.token.AccessToken,
	})
	if err != nil {
		return fmt.Errorf("marshal revoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+EndpointRevoke, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Err: fmt.Errorf("revoke request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{StatusCode: resp.StatusCode, Body: decodeErrorBody(resp)}
	}

	m.token = nil
	m.logger.Info().Msg("Token revoked")
	return nil
}

// Refresh replaces a token the upstream has rejected. When another caller
// already replaced stale with a live token, that token is returned without
// a new exchange, so simultaneous rejections converge on a single
// re-authentication.
func (m *TokenManager) Refresh(ctx context.Context, stale Token) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != nil && m.token.AccessToken != stale.AccessToken && !m.token.Expired(m.now()) {
		return *m.token, nil
	}
	return m.authenticateLocked(ctx)
}

func (m *TokenManager) authenticateLocked(ctx context.Context) (Token, error) {
	if m.gate != nil {
		if err := m.gate(ctx); err != nil {
			return Token{}, err
		}
	}

	payload, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     m.appKey,
		"appsecret":  m.appSecret,
	})
	if err != nil {
		return Token{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+EndpointToken, bytes.NewReader(payload))
	if err != nil {
		return Token{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Token{}, &UpstreamError{Err: fmt.Errorf("token request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var tr tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return Token{}, &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode token response: %w", err)}
		}
		if tr.TokenType == "" {
			tr.TokenType = "Bearer"
		}
		if tr.ExpiresIn == 0 {
			tr.ExpiresIn = 3600
		}

		token := Token{
			AccessToken: tr.AccessToken,
			TokenType:   tr.TokenType,
			IssuedAt:    m.now(),
			ExpiresIn:   tr.ExpiresIn,
		}
		// Atomic replacement: the old token stays valid until the new
		// one is fully stored.
		m.token = &token

		kisTokenRefreshesTotal.Inc()
		m.logger.Info().
			Time("expires_at", token.ExpiresAt()).
			Msg("Authentication successful")
		return token, nil

	case resp.StatusCode == http.StatusUnauthorized:
		body := decodeErrorBody(resp)
		msg, _ := body["error_description"].(string)
		if msg == "" {
			msg = "invalid credentials"
		}
		m.logger.Error().Str("reason", msg).Msg("Authentication rejected")
		return Token{}, &AuthenticationError{Message: msg}

	default:
		return Token{}, &UpstreamError{StatusCode: resp.StatusCode, Body: decodeErrorBody(resp)}
	}
}

// decodeErrorBody parses an error response body as JSON, best effort.
// Returns an empty map when the body is not JSON.
func decodeErrorBody(resp *http.Response) map[string]any {
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return map[string]any{}
	}
	return body
}
