package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/sentimeter/internal/config"
	"github.com/torosent/sentimeter/internal/logging"
	"github.com/torosent/sentimeter/internal/tracing"
)

const tracingShutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "sentimeter",
		Short:         "Sentiment API with a built-in HTTP load tester",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterGlobalFlags(root.PersistentFlags())
	root.SetOut(stdout)
	root.AddCommand(
		newLoadTestCmd(),
		newServeCmd(),
		newWatchCmd(),
	)
	return root
}

// setup loads and validates the configuration of cmd and builds the logger
// and tracing provider every subcommand needs.
type setup struct {
	cfg      *config.Config
	logger   *zap.Logger
	provider *tracing.Provider
}

func newSetup(cmd *cobra.Command) (*setup, error) {
	cfg, err := config.NewLoader().Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings() {
		logger.Warn("configuration warning", zap.String("detail", w))
	}
	provider, err := tracing.Init(cmd.Context(), cfg.Tracing)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	if provider.Enabled() {
		logger.Info("tracing enabled",
			zap.String("endpoint", cfg.Tracing.Endpoint),
			zap.String("protocol", cfg.Tracing.Protocol))
	}
	return &setup{cfg: cfg, logger: logger, provider: provider}, nil
}

// close flushes traces and logs. The shutdown context is detached from the
// command context so a cancelled run still exports its spans.
func (s *setup) close() {
	ctx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
	defer cancel()
	if err := s.provider.Shutdown(ctx); err != nil {
		s.logger.Warn("tracing shutdown", zap.Error(err))
	}
	_ = s.logger.Sync()
}
