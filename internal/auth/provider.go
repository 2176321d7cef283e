// Package auth supplies bearer tokens for the social feed, either a static
// token or one obtained and cached through an OAuth2 token endpoint.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/torosent/sentimeter/internal/config"
)

// Provider obtains tokens and injects them into outgoing requests.
type Provider interface {
	// Token returns a valid token, from cache when possible.
	Token(ctx context.Context) (string, error)

	// InjectHeader sets the Authorization header of req.
	InjectHeader(ctx context.Context, req *http.Request) error

	// Close releases any resources held by the provider.
	Close() error
}

// FromFeedConfig picks the provider for the feed credentials. OAuth2 wins over
// a static token. It returns nil when no credentials are configured.
func FromFeedConfig(cfg config.FeedConfig) (Provider, error) {
	if cfg.Auth.Enabled() {
		p, err := NewOAuth2Provider(OAuth2Config{
			TokenURL:            cfg.Auth.TokenURL,
			ClientID:            cfg.Auth.ClientID,
			ClientSecret:        cfg.Auth.ClientSecret,
			Username:            cfg.Auth.Username,
			Password:            cfg.Auth.Password,
			Scopes:              cfg.Auth.Scopes,
			RefreshBeforeExpiry: cfg.Auth.RefreshBeforeExpiry,
			Timeout:             cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("feed auth: %w", err)
		}
		return p, nil
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		return NewStaticTokenProvider(token), nil
	}
	return nil, nil
}
