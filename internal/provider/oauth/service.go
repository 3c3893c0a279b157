// Package oauth manages the provider authorization flow and the
// on-disk token for a single-account host. Token material is written
// with owner-only permissions and never logged; status reporting
// exposes expiry and scopes only.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

var (
	ErrNotAuthorized    = errors.New("no stored authorization")
	ErrIncompleteConfig = errors.New("oauth configuration is incomplete")
)

// TokenStore persists one oauth2 token as a mode-0600 JSON file.
type TokenStore struct {
	path string
}

// NewTokenStore points the store at its file.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Path returns the token file location.
func (s *TokenStore) Path() string { return s.path }

// Load reads the stored token. A missing file maps to
// ErrNotAuthorized.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotAuthorized
		}
		return nil, fmt.Errorf("read token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, ErrNotAuthorized
	}
	return &token, nil
}

// Save writes the token atomically with owner-only permissions.
func (s *TokenStore) Save(token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	raw, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace token: %w", err)
	}
	return nil
}

// Clear removes the stored token.
func (s *TokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// Service runs the authorization-code flow and hands out refreshing
// token sources.
type Service struct {
	oauthConfig *oauth2.Config
	provider    string
	store       *TokenStore
}

// NewService validates the flow configuration and wires the store.
func NewService(provider, clientID, clientSecret, authURL, tokenURL, redirectURL string, scopes []string, store *TokenStore) (*Service, error) {
	if provider == "" {
		return nil, fmt.Errorf("%w: provider name", ErrIncompleteConfig)
	}
	if clientID == "" || clientSecret == "" || authURL == "" || tokenURL == "" || redirectURL == "" {
		return nil, ErrIncompleteConfig
	}
	if store == nil {
		return nil, fmt.Errorf("%w: token store", ErrIncompleteConfig)
	}
	return &Service{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
			},
			RedirectURL: redirectURL,
			Scopes:      scopes,
		},
		provider: provider,
		store:    store,
	}, nil
}

// AuthURL returns the provider authorization URL for the given state.
func (s *Service) AuthURL(state string) string {
	return s.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and stores it.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	if err := s.store.Save(token); err != nil {
		return nil, err
	}
	return token, nil
}

// TokenSource returns a refreshing source backed by the stored token.
// Refreshed tokens are written back so the next run starts warm.
func (s *Service) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := s.store.Load()
	if err != nil {
		return nil, err
	}
	return &persistingSource{
		base:    s.oauthConfig.TokenSource(ctx, token),
		store:   s.store,
		current: token,
	}, nil
}

// Status describes the stored authorization without exposing token
// material.
type Status struct {
	Authorized bool      `json:"authorized"`
	Expiry     time.Time `json:"expiry"`
	HasRefresh bool      `json:"hasRefresh"`
	Scopes     []string  `json:"scopes,omitempty"`
}

// Status reports whether a usable authorization exists.
func (s *Service) Status() Status {
	token, err := s.store.Load()
	if err != nil {
		return Status{Authorized: false, Scopes: s.oauthConfig.Scopes}
	}
	return Status{
		Authorized: true,
		Expiry:     token.Expiry,
		HasRefresh: token.RefreshToken != "",
		Scopes:     s.oauthConfig.Scopes,
	}
}

// persistingSource saves tokens back to disk whenever the underlying
// source rotates them.
type persistingSource struct {
	mu      sync.Mutex
	base    oauth2.TokenSource
	store   *TokenStore
	current *oauth2.Token
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	token, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if p.current == nil || token.AccessToken != p.current.AccessToken {
		// Refresh responses may omit the refresh token; keep the old
		// one so re-authorization stays unnecessary.
		if token.RefreshToken == "" && p.current != nil {
			token.RefreshToken = p.current.RefreshToken
		}
		if err := p.store.Save(token); err != nil {
			return nil, err
		}
		p.current = token
	}
	return token, nil
}

// SplitScopes parses a comma-separated scope list.
func SplitScopes(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	scopes := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	return scopes
}
