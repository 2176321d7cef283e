package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/sentimeter/internal/config"
	"github.com/torosent/sentimeter/internal/feed"
	"github.com/torosent/sentimeter/internal/httpclient"
	"github.com/torosent/sentimeter/internal/logging"
	"github.com/torosent/sentimeter/internal/metrics"
	"github.com/torosent/sentimeter/internal/runner"
	"github.com/torosent/sentimeter/internal/runstate"
	"github.com/torosent/sentimeter/internal/sentiment"
	"github.com/torosent/sentimeter/internal/server"
	"github.com/torosent/sentimeter/internal/tracing"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sentiment API and the remote load-test controls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSetup(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			srv, err := buildServer(s.cfg, s.logger, s.provider)
			if err != nil {
				return err
			}
			return srv.ListenAndServe(cmd.Context())
		},
	}
	config.RegisterServeFlags(cmd)
	return cmd
}

func buildServer(cfg *config.Config, logger *zap.Logger, provider *tracing.Provider) (*server.Server, error) {
	lexicon := sentiment.DefaultLexicon()
	if cfg.LexiconFile != "" {
		loaded, err := sentiment.LoadLexicon(cfg.LexiconFile)
		if err != nil {
			return nil, err
		}
		lexicon = loaded
		logger.Info("lexicon loaded", zap.String("path", cfg.LexiconFile), zap.Int("words", lexicon.Size()))
	}

	var failures runner.FailureLogger
	if cfg.LoadTest.LogErrors {
		failures = logging.NewFailureLogger(logger)
	}
	collector := metrics.NewCollector()
	controller := runner.NewController(
		runstate.NewStore(),
		httpclient.NewRequesterFactory(cfg.LoadTest.Probe, provider, failures),
		runner.WithObserver(runObserver{collector: collector, logger: logger.Named("runner")}),
		runner.WithTracer(provider.Tracer()),
	)

	fetcher, err := feed.New(cfg.Feed, logger)
	if err != nil {
		return nil, err
	}
	if !cfg.Feed.Enabled() {
		logger.Warn("no feed endpoint configured; topic sentiment will always be empty")
	}

	return server.New(server.Options{
		Server:     cfg.Server,
		LoadTest:   cfg.LoadTest,
		FeedCount:  cfg.Feed.Count,
		Controller: controller,
		Classifier: sentiment.NewLexiconClassifier(lexicon),
		Fetcher:    fetcher,
		Metrics:    collector,
		Logger:     logger,
	})
}

// runObserver feeds run transitions to the metrics collector and the log.
type runObserver struct {
	collector *metrics.Collector
	logger    *zap.Logger
}

func (o runObserver) RunStarted(runID string, cfg runner.RunConfig) {
	o.collector.RunStarted(runID, cfg)
	o.logger.Info("load test started", zap.String("run_id", runID), zap.String("target", cfg.Target.URL()))
}

func (o runObserver) RunFinished(runID string, result runstate.Result) {
	o.collector.RunFinished(runID, result)
	o.logger.Info("load test finished",
		zap.String("run_id", runID),
		zap.Int64("successful_requests", result.SuccessfulRequests),
		zap.Float64("requests_per_minute", result.RequestsPerMinute),
	)
}

func (o runObserver) RunFailed(runID string, err error) {
	o.collector.RunFailed(runID, err)
	o.logger.Error("load test failed", zap.String("run_id", runID), zap.Error(err))
}

var _ runner.Observer = runObserver{}
