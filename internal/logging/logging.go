// Package logging builds the zap loggers used across sentimeter.
package logging

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/torosent/sentimeter/internal/runner"
)

// New returns a logger writing to stderr. format is "console" or "json".
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("log format %q: use console or json", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	return logger, nil
}

// FailureLogger reports failed probes through zap. It satisfies
// runner.FailureLogger.
type FailureLogger struct {
	logger *zap.Logger
}

// NewFailureLogger logs each failed probe as a warning on logger.
func NewFailureLogger(logger *zap.Logger) *FailureLogger {
	return &FailureLogger{logger: logger.Named("probe")}
}

func (f *FailureLogger) LogFailure(err error) {
	var httpErr *runner.HTTPError
	if errors.As(err, &httpErr) {
		f.logger.Warn("probe failed",
			zap.Int("status", httpErr.StatusCode),
			zap.String("body", httpErr.Body))
		return
	}
	f.logger.Warn("probe failed", zap.Error(err))
}
