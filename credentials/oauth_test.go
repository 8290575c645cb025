package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/i2y/llmgateway/provider"
)

func tokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return slowTokenServer(t, calls, 0)
}

// slowTokenServer issues at-1, at-2, ... for refresh token rt-1, taking
// delay per exchange.
func slowTokenServer(t *testing.T, calls *atomic.Int32, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
		n := calls.Add(1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-" + string(rune('0'+n)),
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func oauthConfig(tokenURL string) map[string]*oauth2.Config {
	return map[string]*oauth2.Config{
		"anthropic": {
			ClientID: "client",
			Endpoint: oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		},
	}
}

func TestOAuth_ValidTokenIsServed(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls)
	store := NewMemoryStore(map[string]*oauth2.Token{
		"anthropic": {AccessToken: "at-0", RefreshToken: "rt-1", Expiry: time.Now().Add(time.Hour)},
	})

	src := NewOAuth(oauthConfig(srv.URL), store)
	creds, err := src.Credentials(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "at-0", creds.Secret)
	assert.Zero(t, calls.Load())
}

func TestOAuth_RefreshForcesExchange(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls)
	store := NewMemoryStore(map[string]*oauth2.Token{
		"anthropic": {AccessToken: "at-0", RefreshToken: "rt-1", Expiry: time.Now().Add(time.Hour)},
	})

	src := NewOAuth(oauthConfig(srv.URL), store, WithHTTPClient(srv.Client()))
	creds, err := src.Refresh(context.Background(), "anthropic", provider.Credentials{Secret: "at-0"})
	require.NoError(t, err)
	assert.Equal(t, "at-1", creds.Secret)
	assert.Equal(t, int32(1), calls.Load())

	saved, err := store.Load(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "at-1", saved.AccessToken)
	assert.Equal(t, "rt-1", saved.RefreshToken, "refresh token is kept when not rotated")
}

func TestOAuth_ExpiredJWTIsRefreshed(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	store := NewMemoryStore(map[string]*oauth2.Token{
		"anthropic": {AccessToken: expired, RefreshToken: "rt-1"},
	})

	src := NewOAuth(oauthConfig(srv.URL), store)
	creds, err := src.Credentials(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "at-1", creds.Secret)
}

func TestOAuth_Missing(t *testing.T) {
	src := NewOAuth(oauthConfig("http://unused"), NewMemoryStore(nil))

	_, err := src.Credentials(context.Background(), "anthropic")
	assert.ErrorIs(t, err, provider.ErrNoCredentials)

	_, err = src.Credentials(context.Background(), "openai")
	assert.ErrorIs(t, err, provider.ErrNoCredentials)
}

func TestOAuth_RefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	store := NewMemoryStore(map[string]*oauth2.Token{"anthropic": {AccessToken: "a", RefreshToken: "rt-1"}})
	_, err := NewOAuth(oauthConfig(srv.URL), store).Refresh(context.Background(), "anthropic", provider.Credentials{Secret: "a"})
	assert.ErrorIs(t, err, provider.ErrCredential)
}

func TestOAuth_ConcurrentFirstUseExchangesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := slowTokenServer(t, &calls, 100*time.Millisecond)
	store := NewMemoryStore(map[string]*oauth2.Token{"anthropic": {RefreshToken: "rt-1"}})
	src := Coalesce(NewOAuth(oauthConfig(srv.URL), store))

	const callers = 4
	var wg sync.WaitGroup
	secrets := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds, err := src.Credentials(context.Background(), "anthropic")
			assert.NoError(t, err)
			secrets[i] = creds.Secret
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, s := range secrets {
		assert.Equal(t, "at-1", s)
	}
}

func TestOAuth_RefreshReusesNewerToken(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls)
	store := NewMemoryStore(map[string]*oauth2.Token{
		"anthropic": {AccessToken: "at-0", RefreshToken: "rt-1", Expiry: time.Now().Add(time.Hour)},
	})
	src := NewOAuth(oauthConfig(srv.URL), store)

	tests := []struct {
		name     string
		rejected string
		want     string
		calls    int32
	}{
		{name: "first rejection exchanges", rejected: "at-0", want: "at-1", calls: 1},
		{name: "late rejection of the same token reuses the result", rejected: "at-0", want: "at-1", calls: 1},
		{name: "rejection of the new token exchanges again", rejected: "at-1", want: "at-2", calls: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := src.Refresh(context.Background(), "anthropic", provider.Credentials{Secret: tt.rejected})
			require.NoError(t, err)
			assert.Equal(t, tt.want, creds.Secret)
			assert.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestOAuth_ExpiredTokenInChain(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls)
	store := NewMemoryStore(map[string]*oauth2.Token{
		"anthropic": {AccessToken: "old", RefreshToken: "rt-1", Expiry: time.Now().Add(-time.Minute)},
	})
	src := Coalesce(Chain{NewOAuth(oauthConfig(srv.URL), store), Static{"anthropic": {Secret: "static"}}})

	creds, err := src.Refresh(context.Background(), "anthropic", provider.Credentials{Secret: "old"})
	require.NoError(t, err)
	assert.Equal(t, "at-1", creds.Secret)
	assert.Equal(t, int32(1), calls.Load(), "finding the owner does not exchange")

	creds, err = src.Credentials(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "at-1", creds.Secret)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOAuth_Holds(t *testing.T) {
	store := NewMemoryStore(map[string]*oauth2.Token{
		"anthropic": {RefreshToken: "rt-1"},
		"openai":    {AccessToken: "at"},
	})
	src := NewOAuth(map[string]*oauth2.Config{"anthropic": {}, "gemini": {}}, store)

	assert.True(t, src.Holds(context.Background(), "anthropic"))
	assert.False(t, src.Holds(context.Background(), "openai"), "not configured")
	assert.False(t, src.Holds(context.Background(), "gemini"), "no stored token")
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	got, ok := TokenExpiry(signed)
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = TokenExpiry("opaque-token")
	assert.False(t, ok)
}
