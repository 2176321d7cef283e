// Package feed fetches recent posts about a topic from a social search API.
//
// Fetchers never fail: every transport or decoding problem is logged and
// reported as an empty result, so callers can treat "nothing found" and
// "feed unavailable" the same way.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/sentimeter/internal/auth"
	"github.com/torosent/sentimeter/internal/config"
)

// maxBodyBytes bounds how much of a search response is read.
const maxBodyBytes = 4 << 20

// retweetPrefix marks reposts, which are skipped.
const retweetPrefix = "RT @"

// Fetcher returns up to count post texts about topic.
type Fetcher interface {
	Fetch(ctx context.Context, topic string, count int) []string
}

// New returns an HTTPFetcher authenticated per cfg when an endpoint is
// configured and a NopFetcher otherwise.
func New(cfg config.FeedConfig, logger *zap.Logger) (Fetcher, error) {
	if !cfg.Enabled() {
		return NopFetcher{}, nil
	}
	provider, err := auth.FromFeedConfig(cfg)
	if err != nil {
		return nil, err
	}
	var opts []Option
	if provider != nil {
		opts = append(opts, WithAuth(provider))
	}
	return NewHTTPFetcher(cfg, logger, opts...), nil
}

// NopFetcher always returns no posts.
type NopFetcher struct{}

func (NopFetcher) Fetch(context.Context, string, int) []string { return []string{} }

// HTTPFetcher queries a search endpoint shaped like the Twitter v2 recent
// search API.
type HTTPFetcher struct {
	client   *http.Client
	endpoint string
	auth     auth.Provider
	textPath string
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithAuth replaces the static bearer token of the config with p.
func WithAuth(p auth.Provider) Option {
	return func(f *HTTPFetcher) {
		f.auth = p
	}
}

// NewHTTPFetcher builds a fetcher from cfg. A RatePerSecond of 0 disables
// pacing.
func NewHTTPFetcher(cfg config.FeedConfig, logger *zap.Logger, opts ...Option) *HTTPFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	textPath := strings.TrimPrefix(strings.TrimSpace(cfg.TextPath), "$.")
	if textPath == "" {
		textPath = config.DefaultFeedTextPath
	}
	f := &HTTPFetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		endpoint: cfg.Endpoint,
		textPath: textPath,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.Named("feed"),
	}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		f.auth = auth.NewStaticTokenProvider(token)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, topic string, count int) []string {
	log := f.logger.With(zap.String("topic", topic), zap.Int("count", count))
	if count < 1 {
		return []string{}
	}
	if err := f.limiter.Wait(ctx); err != nil {
		log.Warn("feed rate limit wait aborted", zap.Error(err))
		return []string{}
	}

	body, err := f.get(ctx, topic, count)
	if err != nil {
		log.Warn("feed fetch failed", zap.Error(err))
		return []string{}
	}

	result := gjson.GetBytes(body, f.textPath)
	if !result.Exists() {
		log.Debug("feed response has no posts", zap.String("path", f.textPath))
		return []string{}
	}
	texts := make([]string, 0, count)
	for _, item := range result.Array() {
		text := item.String()
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, retweetPrefix) {
			continue
		}
		texts = append(texts, text)
		if len(texts) == count {
			break
		}
	}
	log.Debug("feed fetched", zap.Int("posts", len(texts)))
	return texts
}

func (f *HTTPFetcher) get(ctx context.Context, topic string, count int) ([]byte, error) {
	u, err := url.Parse(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("query", topic)
	q.Set("max_results", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.auth != nil {
		if err := f.auth.InjectHeader(ctx, req); err != nil {
			return nil, fmt.Errorf("authenticate: %w", err)
		}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search returned status %d after %s", resp.StatusCode, time.Since(start).Round(time.Millisecond))
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("search returned invalid JSON")
	}
	return body, nil
}
