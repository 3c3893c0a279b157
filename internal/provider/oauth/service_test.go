package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newStore(t *testing.T) *TokenStore {
	t.Helper()
	return NewTokenStore(filepath.Join(t.TempDir(), "runtime", "token.json"))
}

func TestTokenStoreRoundTrip(t *testing.T) {
	store := newStore(t)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNotAuthorized)

	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}
	require.NoError(t, store.Save(token))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, token.AccessToken, loaded.AccessToken)
	assert.Equal(t, token.RefreshToken, loaded.RefreshToken)

	require.NoError(t, store.Clear())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.NoError(t, store.Clear())
}

func TestNewServiceValidation(t *testing.T) {
	store := newStore(t)
	_, err := NewService("google", "", "secret", "https://auth", "https://token", "urn:ietf:wg:oauth:2.0:oob", nil, store)
	assert.ErrorIs(t, err, ErrIncompleteConfig)

	_, err = NewService("", "id", "secret", "https://auth", "https://token", "urn:ietf:wg:oauth:2.0:oob", nil, store)
	assert.ErrorIs(t, err, ErrIncompleteConfig)

	_, err = NewService("google", "id", "secret", "https://auth", "https://token", "urn:ietf:wg:oauth:2.0:oob", nil, nil)
	assert.ErrorIs(t, err, ErrIncompleteConfig)
}

func TestAuthURL(t *testing.T) {
	svc, err := NewService("google", "client-id", "secret", "https://accounts.example/auth", "https://accounts.example/token", "urn:ietf:wg:oauth:2.0:oob", []string{"scope-a"}, newStore(t))
	require.NoError(t, err)

	u := svc.AuthURL("state-123")
	assert.Contains(t, u, "https://accounts.example/auth")
	assert.Contains(t, u, "state=state-123")
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "client_id=client-id")
}

func TestExchangeStoresToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	store := newStore(t)
	svc, err := NewService("google", "id", "secret", server.URL+"/auth", server.URL+"/token", "urn:ietf:wg:oauth:2.0:oob", nil, store)
	require.NoError(t, err)

	token, err := svc.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token.AccessToken)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh", loaded.RefreshToken)

	status := svc.Status()
	assert.True(t, status.Authorized)
	assert.True(t, status.HasRefresh)
}

func TestTokenSourcePersistsRefresh(t *testing.T) {
	refreshes := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		w.Header().Set("Content-Type", "application/json")
		// Refresh responses often omit the refresh token.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "rotated-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	store := newStore(t)
	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "expired-access",
		RefreshToken: "long-lived-refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	svc, err := NewService("google", "id", "secret", server.URL+"/auth", server.URL+"/token", "urn:ietf:wg:oauth:2.0:oob", nil, store)
	require.NoError(t, err)

	source, err := svc.TokenSource(context.Background())
	require.NoError(t, err)

	token, err := source.Token()
	require.NoError(t, err)
	assert.Equal(t, "rotated-access", token.AccessToken)
	assert.Equal(t, 1, refreshes)

	// The rotated token landed on disk with the refresh token kept.
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "rotated-access", loaded.AccessToken)
	assert.Equal(t, "long-lived-refresh", loaded.RefreshToken)
}

func TestTokenSourceWithoutToken(t *testing.T) {
	svc, err := NewService("google", "id", "secret", "https://a", "https://t", "urn:ietf:wg:oauth:2.0:oob", nil, newStore(t))
	require.NoError(t, err)
	_, err = svc.TokenSource(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestSplitScopes(t *testing.T) {
	assert.Nil(t, SplitScopes(""))
	assert.Equal(t, []string{"a", "b"}, SplitScopes("a, b,"))
}
