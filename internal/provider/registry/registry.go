// Package registry builds the configured provider client.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fppkit/calbridge/internal/provider"
	"github.com/fppkit/calbridge/internal/provider/caldav"
	"github.com/fppkit/calbridge/internal/provider/google"
	"github.com/fppkit/calbridge/internal/provider/oauth"
	"github.com/fppkit/calbridge/pkg/config"
)

// TokenPath is where the provider authorization lives under the state
// directory.
func TokenPath(cfg *config.Config) string {
	return filepath.Join(cfg.StateDir, "runtime", "token.json")
}

// OAuthService builds the authorization flow for the Google provider.
func OAuthService(cfg *config.Config) (*oauth.Service, error) {
	return oauth.NewService(
		"google",
		cfg.OAuthClientID,
		cfg.OAuthClientSecret,
		cfg.OAuthAuthURL,
		cfg.OAuthTokenURL,
		cfg.OAuthRedirectURL,
		oauth.SplitScopes(cfg.OAuthScopes),
		oauth.NewTokenStore(TokenPath(cfg)),
	)
}

// New builds the provider client named by the configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Client, error) {
	switch cfg.Provider {
	case "google":
		svc, err := OAuthService(cfg)
		if err != nil {
			return nil, err
		}
		source, err := svc.TokenSource(ctx)
		if err != nil {
			return nil, err
		}
		return google.NewClient(source, logger, google.WithTimeout(cfg.HTTPTimeout)), nil
	case "caldav":
		if cfg.CalDAVURL == "" {
			return nil, fmt.Errorf("%w: caldav url not configured", provider.ErrUnsupported)
		}
		client := caldav.NewClient(cfg.CalDAVURL, cfg.CalDAVUsername, cfg.CalDAVPassword, logger)
		if cfg.CalDAVPath != "" {
			client = client.WithCalendarPath(cfg.CalDAVPath)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: %q", provider.ErrUnsupported, cfg.Provider)
	}
}
