package auth

import (
	"context"
	"net/http"
)

// StaticTokenProvider returns a pre-issued bearer token, such as a feed API
// bearer token from the environment.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider returns a provider that always sends token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(context.Context) (string, error) {
	return p.token, nil
}

func (p *StaticTokenProvider) InjectHeader(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+p.token)
	return nil
}

func (p *StaticTokenProvider) Close() error {
	return nil
}
