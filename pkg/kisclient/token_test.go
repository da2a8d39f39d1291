package kisclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/whdghk1907/mcp-price-ranking/internal/testutil"
)

func newTestTokenManager(t *testing.T, mock *testutil.MockKIS) *TokenManager {
	t.Helper()
	return NewTokenManager(&http.Client{Timeout: 5 * time.Second}, mock.URL(), "test-key", "test-secret", zerolog.Nop())
}

func TestToken_Expired(t *testing.T) {
	issued := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	token := Token{AccessToken: "t", IssuedAt: issued, ExpiresIn: 3600}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"fresh", issued.Add(time.Minute), false},
		{"one second before expiry", issued.Add(3599 * time.Second), false},
		{"at expiry", issued.Add(3600 * time.Second), true},
		{"past expiry", issued.Add(2 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := token.Expired(tt.at); got != tt.want {
				t.Errorf("Expired(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestTokenManager_CurrentWithoutToken(t *testing.T) {
	mock := testutil.NewMockKIS()
	defer mock.Close()

	m := newTestTokenManager(t, mock)
	if _, err := m.Current(); !errors.Is(err, ErrNoToken) {
		t.Errorf("Current() err = %v, want ErrNoToken", err)
	}
	if !m.IsExpired() {
		t.Error("IsExpired() = false with no token held")
	}
}

func TestTokenManager_Ensure(t *testing.T) {
	mock := testutil.NewMockKIS()
	defer mock.Close()
	mock.SetResponse(EndpointToken, testutil.NewTokenResponse("issued-token", 86400))

	m := newTestTokenManager(t, mock)
	token, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if token.AccessToken != "issued-token" {
		t.Errorf("AccessToken = %q, want %q", token.AccessToken, "issued-token")
	}
	if token.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", token.TokenType)
	}
	if token.ExpiresIn != 86400 {
		t.Errorf("ExpiresIn = %d, want 86400", token.ExpiresIn)
	}

	// Second Ensure reuses the live token without another exchange.
	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if got := mock.GetTokenRequestCount(); got != 1 {
		t.Errorf("token requests = %d, want 1", got)
	}
}

func TestTokenManager_EnsureRefreshesExpired(t *testing.T) {
	mock := testutil.NewMockKIS()
	defer mock.Close()
	mock.SetResponse(EndpointToken, testutil.NewTokenResponse("t", 3600))

	m := newTestTokenManager(t, mock)
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	// Jump past expiry: the next Ensure must exchange again.
	m.now = func() time.Time { return base.Add(2 * time.Hour) }
	if !m.IsExpired() {
		t.Fatal("token should be expired after clock jump")
	}
	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure after expiry: %v", err)
	}
	if got := mock.GetTokenRequestCount(); got != 2 {
		t.Errorf("token requests = %d, want 2", got)
	}
}

func TestTokenManager_AuthenticateUnauthorized(t *testing.T) {
	mock := testutil.NewMockKIS()
	defer mock.Close()
	mock.SetResponse(EndpointToken, testutil.NewUnauthorizedResponse("invalid appkey"))

	m := newTestTokenManager(t, mock)
	_, err := m.Authenticate(context.Background())

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want *AuthenticationError", err)
	}
	if authErr.Message != "invalid appkey" {
		t.Errorf("Message = %q, want %q", authErr.Message, "invalid appkey")
	}
}

func TestTokenManager_AuthenticateServerError(t *testing.T) {
	mock := testutil.NewMockKIS()
	defer mock.Close()
	mock.SetResponse(EndpointToken, testutil.NewServerErrorResponse())

	m := newTestTokenManager(t, mock)
	_, err := m.Authenticate(context.Background())

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
	if upErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", upErr.StatusCode)
	}
}

func TestTokenManager_ConcurrentEnsureSingleExchange(t *testing.T) {
	mock := testutil.NewMockKIS()
	defer mock.Close()
	mock.SetHandler(EndpointToken, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "t", "token_type": "Bearer", "expires_in": 86400}`))
	})

	m := newTestTokenManager(t, mock)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Ensure(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Ensure: %v", err)
		}
	}
	if got := mock.GetTokenRequestCount(); got != 1 {
		t.Errorf("token requests = %d, want 1 (refresh must be single-flight)", got)
	}
}

func TestTokenManager_ConcurrentRefreshSingleExchange(t *testing.T) {
	mock := testutil.NewMockKIS()
	defer mock.Close()

	var issued int32
	mock.SetHandler(EndpointToken, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&issued, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": "t%d", "token_type": "Bearer", "expires_in": 86400}`, n)
	})

	m := newTestTokenManager(t, mock)
	stale, err := m.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	var wg sync.WaitGroup
	tokens := make(chan Token, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := m.Refresh(context.Background(), stale)
			if err != nil {
				t.Errorf("Refresh: %v", err)
				return
			}
			tokens <- token
		}()
	}
	wg.Wait()
	close(tokens)

	for token := range tokens {
		if token.AccessToken != "t2" {
			t.Errorf("AccessToken = %q, want t2 (the shared replacement)", token.AccessToken)
		}
	}
	if got := mock.GetTokenRequestCount(); got != 2 {
		t.Errorf("token requests = %d, want 2 (initial + one shared refresh)", got)
	}
}

func TestTokenManager_RefreshReusesReplacement(t *testing.T) {
	mock := testutil.NewMockKIS()
	defer mock.Close()

	var issued int32
	mock.SetHandler(EndpointToken, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&issued, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": "t%d", "token_type": "Bearer", "expires_in": 86400}`, n)
	})

	m := newTestTokenManager(t, mock)
	stale, err := m.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	first, err := m.Refresh(context.Background(), stale)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	second, err := m.Refresh(context.Background(), stale)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if second.AccessToken != first.AccessToken {
		t.Errorf("second Refresh got %q, want the held %q", second.AccessToken, first.AccessToken)
	}
	if got := mock.GetTokenRequestCount(); got != 2 {
		t.Errorf("token requests = %d, want 2", got)
	}
}

func TestTokenManager_Revoke(t *testing.T) {
	mock := testutil.NewMockKIS()
	defer mock.Close()
	mock.SetResponse(EndpointRevoke, testutil.MockKISResponse{
		StatusCode: http.StatusOK,
		Body:       `{"code": 200, "message": "revoked"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	})

	m := newTestTokenManager(t, mock)
	if _, err := m.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if err := m.Revoke(context.Background()); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if got := mock.GetPathCount(EndpointRevoke); got != 1 {
		t.Errorf("revoke requests = %d, want 1", got)
	}
	if _, err := m.Current(); !errors.Is(err, ErrNoToken) {
		t.Errorf("Current() after Revoke err = %v, want ErrNoToken", err)
	}
}

func TestTokenManager_RevokeWithoutToken(t *testing.T) {
	mock := testutil.NewMockKIS()
	defer mock.Close()

	m := newTestTokenManager(t, mock)
	if err := m.Revoke(context.Background()); err != nil {
		t.Fatalf("Revoke without token: %v", err)
	}
	if got := mock.GetPathCount(EndpointRevoke); got != 0 {
		t.Errorf("revoke requests = %d, want 0", got)
	}
}

func TestTokenManager_GateError(t *testing.T) {
	mock := testutil.NewMockKIS()
	defer mock.Close()

	m := newTestTokenManager(t, mock)
	gateErr := errors.New("gate closed")
	m.gate = func(ctx context.Context) error { return gateErr }

	if _, err := m.Authenticate(context.Background()); !errors.Is(err, gateErr) {
		t.Errorf("err = %v, want gate error", err)
	}
	if got := mock.GetTokenRequestCount(); got != 0 {
		t.Errorf("token requests = %d, want 0 when gate rejects", got)
	}
}
