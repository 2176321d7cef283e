package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/torosent/sentimeter/internal/config"
)

// RequestBuilder builds the probe request repeated by every worker.
type RequestBuilder struct {
	method  string
	target  string
	headers http.Header
	body    BodySource
}

// NewRequestBuilder validates probe settings once so Build stays cheap on the
// hot path.
func NewRequestBuilder(target string, probe config.ProbeConfig) (*RequestBuilder, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("target URL is required")
	}

	method := strings.ToUpper(strings.TrimSpace(probe.Method))
	if method == "" {
		method = http.MethodPost
	}

	body := NewFormBody(probe.Form)
	if method == http.MethodGet || method == http.MethodHead {
		body = emptyBodySource{}
	}

	headers := http.Header{}
	if ct := body.ContentType(); ct != "" {
		headers.Set("Content-Type", ct)
	}
	for key, value := range probe.Headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}

	return &RequestBuilder{
		method:  method,
		target:  target,
		headers: headers,
		body:    body,
	}, nil
}

// Method is the HTTP method of every probe.
func (b *RequestBuilder) Method() string { return b.method }

// Target is the probe URL.
func (b *RequestBuilder) Target() string { return b.target }

// Build returns a fresh request with its own body reader, bound to ctx.
func (b *RequestBuilder) Build(ctx context.Context) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	reader, err := b.body.NewReader()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, b.method, b.target, reader)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}

	req.Header = b.headers.Clone()
	if length, ok := b.body.ContentLength(); ok {
		req.ContentLength = length
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return b.body.NewReader()
	}
	return req, nil
}

// NewClient returns a client whose idle pool can hold one keep-alive
// connection per worker so a closed-loop run does not churn sockets.
func NewClient(timeout time.Duration, workers int) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	if workers < 1 {
		workers = 1
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          max(256, workers),
		MaxIdleConnsPerHost:   workers,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
