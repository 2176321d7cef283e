// Package server exposes the sentiment API and the remote control surface of
// the load-test harness over HTTP.
//
// Load tests started through the API run on a server-owned context rather
// than the request context, so a run outlives the POST that started it. On
// shutdown the server stops accepting connections, closes status streams and
// gives active runs up to ShutdownTimeout to finish before cancelling them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/torosent/sentimeter/internal/config"
	"github.com/torosent/sentimeter/internal/feed"
	"github.com/torosent/sentimeter/internal/metrics"
	"github.com/torosent/sentimeter/internal/runner"
	"github.com/torosent/sentimeter/internal/sentiment"
)

// Options wires the server's collaborators. Controller and Classifier are
// required.
type Options struct {
	Server     config.ServerConfig
	LoadTest   config.LoadTestConfig
	FeedCount  int
	Controller *runner.Controller
	Classifier sentiment.Classifier
	Fetcher    feed.Fetcher
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// Server serves the sentiment API, the load-test control routes and the
// status stream.
type Server struct {
	cfg        config.ServerConfig
	loadTest   config.LoadTestConfig
	feedCount  int
	controller *runner.Controller
	classifier sentiment.Classifier
	fetcher    feed.Fetcher
	metrics    *metrics.Collector
	logger     *zap.Logger

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	runCtx     context.Context
	cancelRuns context.CancelFunc
	closing    chan struct{}
	closeOnce  sync.Once
}

// New validates opts, fills defaults and builds the router.
func New(opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, errors.New("server: controller is required")
	}
	if opts.Classifier == nil {
		return nil, errors.New("server: classifier is required")
	}
	if opts.Fetcher == nil {
		opts.Fetcher = feed.NopFetcher{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FeedCount < 1 {
		opts.FeedCount = config.DefaultFeedCount
	}
	if opts.Server.StreamInterval <= 0 {
		opts.Server.StreamInterval = 500 * time.Millisecond
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        opts.Server,
		loadTest:   opts.LoadTest,
		feedCount:  opts.FeedCount,
		controller: opts.Controller,
		classifier: opts.Classifier,
		fetcher:    opts.Fetcher,
		metrics:    opts.Metrics,
		logger:     opts.Logger.Named("server"),
		runCtx:     runCtx,
		cancelRuns: cancel,
		closing:    make(chan struct{}),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              opts.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/api/sentiment/{topic}", s.handleTopicSentiment).Methods(http.MethodGet)

	r.HandleFunc("/api/loadtest", s.handleStartLoadTest).Methods(http.MethodPost)
	r.HandleFunc("/api/loadtest/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/loadtest/report", s.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/api/loadtest/stream", s.handleStream).Methods(http.MethodGet)

	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

// Handler returns the root handler, for use with httptest or a custom server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		s.cancelRuns()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown stops the HTTP server and waits for background runs. Runs still
// active after ShutdownTimeout are cancelled and recorded as errors.
func (s *Server) Shutdown() error {
	s.closeOnce.Do(func() { close(s.closing) })

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if !s.waitForRuns(ctx) {
		s.logger.Warn("shutdown timeout reached, cancelling active load test",
			zap.Duration("timeout", s.cfg.ShutdownTimeout))
		s.cancelRuns()
		s.controller.Wait()
	}
	s.cancelRuns()
	s.logger.Info("server stopped")
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) waitForRuns(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.controller.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
