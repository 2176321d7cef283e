package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/sentimeter/internal/config"
	"github.com/torosent/sentimeter/internal/httpclient"
	"github.com/torosent/sentimeter/internal/logging"
	"github.com/torosent/sentimeter/internal/output"
	"github.com/torosent/sentimeter/internal/runner"
	"github.com/torosent/sentimeter/internal/runstate"
	"github.com/torosent/sentimeter/internal/threshold"
	"github.com/torosent/sentimeter/internal/tracing"
)

const progressInterval = 100 * time.Millisecond

func newLoadTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Bombard a target with concurrent probes for a fixed duration",
		Long: `Runs closed-loop workers against the target until the duration elapses,
then prints the number of successful (2xx) probes and the requests per minute.
An HTML report is written unless --html-output is empty. The command exits
non-zero when any --threshold assertion fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSetup(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			return runLoadTest(cmd.Context(), s.cfg, s.logger, s.provider, cmd.OutOrStdout())
		},
	}
	config.RegisterLoadTestFlags(cmd)
	return cmd
}

func runLoadTest(ctx context.Context, cfg *config.Config, logger *zap.Logger, provider *tracing.Provider, stdout io.Writer) error {
	lt := cfg.LoadTest
	target, err := runner.ParseTarget(lt.Target)
	if err != nil {
		return err
	}
	runCfg := runner.RunConfig{Duration: lt.Duration, Threads: lt.Threads, Target: target}
	if err := runCfg.Validate(); err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(lt.Thresholds)
	if err != nil {
		return err
	}

	if lt.HTMLOutput != "" {
		unlock, err := lockReport(lt.HTMLOutput)
		if err != nil {
			return err
		}
		defer unlock()
	}

	var failures runner.FailureLogger
	if lt.LogErrors {
		failures = logging.NewFailureLogger(logger)
	}
	factory := httpclient.NewRequesterFactory(lt.Probe, provider, failures)
	controller := runner.NewController(runstate.NewStore(), factory, runner.WithTracer(provider.Tracer()))

	logger.Info("starting load test",
		zap.String("target", target.URL()),
		zap.Int("threads", runCfg.Threads),
		zap.Duration("duration", runCfg.Duration),
	)

	var progress *output.ProgressReporter
	if !lt.JSONOutput {
		progress = output.NewProgressReporter(runCfg.Duration, progressInterval, stdout)
		progress.Start()
	}
	ack, result, err := controller.Run(ctx, runCfg)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return fmt.Errorf("load test %s: %w", ack.RunID, err)
	}

	report := output.NewReport(runCfg, result, ack.RunID)
	report.Thresholds = threshold.NewEvaluator(thresholds).Evaluate(result)
	if lt.JSONOutput {
		if err := output.PrintJSONReport(stdout, report); err != nil {
			return err
		}
	} else if err := output.PrintReport(stdout, report); err != nil {
		return err
	}

	if lt.HTMLOutput != "" {
		if err := writeHTMLReport(lt.HTMLOutput, report); err != nil {
			return err
		}
		logger.Info("html report written", zap.String("path", lt.HTMLOutput))
	}

	if failed := threshold.Failed(report.Thresholds); failed > 0 {
		return fmt.Errorf("%d threshold(s) failed", failed)
	}
	return nil
}

// lockReport takes a cross-process lock next to the report path so two CLI
// runs never write the same report concurrently.
func lockReport(path string) (func(), error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("another load test is writing %s", path)
	}
	return func() { _ = lock.Unlock() }, nil
}

func writeHTMLReport(path string, report output.Report) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create html report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close html report: %w", cerr)
		}
	}()
	if err := output.GenerateHTMLReport(f, report); err != nil {
		return fmt.Errorf("write html report: %w", err)
	}
	return nil
}
