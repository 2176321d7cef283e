package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultTokenTimeout = 30 * time.Second

// OAuth2Config describes a token endpoint and the grant used against it.
// Setting Username selects the resource owner password grant; otherwise the
// client credentials grant is used.
type OAuth2Config struct {
	TokenURL            string
	ClientID            string
	ClientSecret        string
	Username            string
	Password            string
	Scopes              []string
	RefreshBeforeExpiry time.Duration
	Timeout             time.Duration
}

// OAuth2Provider fetches access tokens and caches them until shortly before
// they expire. Concurrent callers share a single in-flight token request.
type OAuth2Provider struct {
	cfg        OAuth2Config
	httpClient *http.Client
	group      singleflight.Group

	mu     sync.Mutex
	token  string
	expiry time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

// NewOAuth2Provider validates cfg. No token is fetched until first use.
func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	if _, err := url.ParseRequestURI(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("invalid token url: %w", err)
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTokenTimeout
	}
	return &OAuth2Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Token returns the cached token while it is fresh and fetches a new one
// otherwise. A caller whose ctx ends stops waiting, but the shared fetch
// continues for the others.
func (p *OAuth2Provider) Token(ctx context.Context) (string, error) {
	if token, ok := p.cached(); ok {
		return token, nil
	}
	ch := p.group.DoChan("token", func() (interface{}, error) {
		if token, ok := p.cached(); ok {
			return token, nil
		}
		return p.refresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (p *OAuth2Provider) InjectHeader(ctx context.Context, req *http.Request) error {
	token, err := p.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (p *OAuth2Provider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *OAuth2Provider) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Now().Before(p.expiry) {
		return p.token, true
	}
	return "", false
}

// refresh fetches and caches a token. A response without expires_in is
// returned but never cached.
func (p *OAuth2Provider) refresh(ctx context.Context) (string, error) {
	token, expiresIn, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.token = token
	p.expiry = time.Now().Add(time.Duration(expiresIn)*time.Second - p.cfg.RefreshBeforeExpiry)
	p.mu.Unlock()
	return token, nil
}

func (p *OAuth2Provider) fetch(ctx context.Context) (string, int, error) {
	data := url.Values{}
	if p.cfg.Username != "" {
		data.Set("grant_type", "password")
		data.Set("username", p.cfg.Username)
		data.Set("password", p.cfg.Password)
	} else {
		data.Set("grant_type", "client_credentials")
	}
	if len(p.cfg.Scopes) > 0 {
		data.Set("scope", strings.Join(p.cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch token: %w", err)
	}
	defer resp.Body.Close()

	var body tokenResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)
	if body.Error != "" {
		return "", 0, fmt.Errorf("oauth2 error: %s - %s", body.Error, body.ErrorDesc)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", decodeErr)
	}
	if body.AccessToken == "" {
		return "", 0, errors.New("no access token in response")
	}
	return body.AccessToken, body.ExpiresIn, nil
}
