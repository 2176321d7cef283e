package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/sentimeter/internal/auth"
	"github.com/torosent/sentimeter/internal/config"
)

func feedConfig(endpoint string) config.FeedConfig {
	return config.FeedConfig{
		Endpoint: endpoint,
		Token:    "secret",
		TextPath: config.DefaultFeedTextPath,
		Count:    10,
		Timeout:  2 * time.Second,
	}
}

func TestHTTPFetcherFetch(t *testing.T) {
	type seen struct {
		query, maxResults, auth string
	}
	requests := make(chan seen, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- seen{
			query:      r.URL.Query().Get("query"),
			maxResults: r.URL.Query().Get("max_results"),
			auth:       r.Header.Get("Authorization"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"id":"1","text":"I love Go"},
			{"id":"2","text":"RT @someone: I love Go"},
			{"id":"3","text":"   "},
			{"id":"4","text":"Go is terrible today"},
			{"id":"5","text":"one more"}
		]}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(feedConfig(srv.URL+"/2/tweets/search/recent"), zap.NewNop())
	got := f.Fetch(context.Background(), "golang", 2)

	if len(got) != 2 || got[0] != "I love Go" || got[1] != "Go is terrible today" {
		t.Fatalf("Fetch() = %q", got)
	}
	req := <-requests
	if req.query != "golang" || req.maxResults != "2" {
		t.Errorf("query params = %+v", req)
	}
	if req.auth != "Bearer secret" {
		t.Errorf("Authorization = %q", req.auth)
	}
}

func TestHTTPFetcherFailuresYieldEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
		{"invalid json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":[`))
		}},
		{"no data", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"meta":{"result_count":0}}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			got := NewHTTPFetcher(feedConfig(srv.URL), zap.NewNop()).Fetch(context.Background(), "go", 5)
			if got == nil || len(got) != 0 {
				t.Fatalf("Fetch() = %#v, want empty non-nil slice", got)
			}
		})
	}
}

func TestHTTPFetcherLogsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	NewHTTPFetcher(feedConfig(srv.URL), zap.New(core)).Fetch(context.Background(), "go", 5)

	entries := logs.FilterMessage("feed fetch failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one failure log, got %d", len(entries))
	}
	if entries[0].LoggerName != "feed" || entries[0].ContextMap()["topic"] != "go" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestHTTPFetcherUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	if got := NewHTTPFetcher(feedConfig(endpoint), nil).Fetch(context.Background(), "go", 5); len(got) != 0 {
		t.Fatalf("Fetch() = %q, want empty", got)
	}
}

func TestHTTPFetcherCustomTextPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"posts":[{"body":"hello"},{"body":"world"}]}`))
	}))
	defer srv.Close()

	cfg := feedConfig(srv.URL)
	cfg.TextPath = "$.posts.#.body"
	got := NewHTTPFetcher(cfg, nil).Fetch(context.Background(), "x", 10)
	if len(got) != 2 || got[1] != "world" {
		t.Fatalf("Fetch() = %q", got)
	}
}

func TestHTTPFetcherCancelledContext(t *testing.T) {
	hits := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
	}))
	defer srv.Close()

	cfg := feedConfig(srv.URL)
	cfg.RatePerSecond = 0.001
	f := NewHTTPFetcher(cfg, nil)
	// The first call consumes the only token.
	f.Fetch(context.Background(), "go", 1)
	<-hits

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if got := f.Fetch(ctx, "go", 1); len(got) != 0 {
		t.Fatalf("Fetch() = %q, want empty", got)
	}
	select {
	case <-hits:
		t.Fatal("rate-limited fetch reached the server")
	default:
	}
}

func TestNewSelectsFetcher(t *testing.T) {
	f, err := New(config.FeedConfig{}, nil)
	if _, ok := f.(NopFetcher); !ok || err != nil {
		t.Errorf("New() without endpoint = %T, %v; want NopFetcher", f, err)
	}
	f, err = New(feedConfig("http://example.invalid/search"), nil)
	if _, ok := f.(*HTTPFetcher); !ok || err != nil {
		t.Errorf("New() with endpoint = %T, %v; want *HTTPFetcher", f, err)
	}
	cfg := feedConfig("http://example.invalid/search")
	cfg.Auth = config.FeedAuthConfig{TokenURL: "::bad", ClientID: "c"}
	if _, err := New(cfg, nil); err == nil {
		t.Error("New() expected error for a bad token url")
	}
	if got := (NopFetcher{}).Fetch(context.Background(), "go", 3); got == nil || len(got) != 0 {
		t.Errorf("NopFetcher.Fetch() = %#v", got)
	}
}

func TestHTTPFetcherOAuth2(t *testing.T) {
	var tokenCalls atomic.Int64
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		if user, _, _ := r.BasicAuth(); user != "sentimeter" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"oauth-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokens.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer oauth-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"text":"authorized post"}]}`))
	}))
	defer srv.Close()

	cfg := feedConfig(srv.URL)
	cfg.Auth = config.FeedAuthConfig{TokenURL: tokens.URL, ClientID: "sentimeter"}
	f, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := f.Fetch(context.Background(), "go", 5); len(got) != 1 || got[0] != "authorized post" {
			t.Fatalf("Fetch() #%d = %q", i, got)
		}
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Errorf("token endpoint called %d times, want 1", got)
	}
}

func TestHTTPFetcherAuthFailure(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer tokens.Close()

	var feedHits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		feedHits.Add(1)
	}))
	defer srv.Close()

	provider, err := auth.NewOAuth2Provider(auth.OAuth2Config{TokenURL: tokens.URL, ClientID: "c"})
	if err != nil {
		t.Fatalf("NewOAuth2Provider() error = %v", err)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	got := NewHTTPFetcher(feedConfig(srv.URL), zap.New(core), WithAuth(provider)).Fetch(context.Background(), "go", 5)
	if got == nil || len(got) != 0 {
		t.Fatalf("Fetch() = %#v, want empty", got)
	}
	if feedHits.Load() != 0 {
		t.Error("feed called without a token")
	}
	if logs.FilterMessage("feed fetch failed").Len() != 1 {
		t.Errorf("logs = %v", logs.All())
	}
}
