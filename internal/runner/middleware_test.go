package runner_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/torosent/sentimeter/internal/runner"
)

type statusRequester struct {
	statusCode int
}

func (s *statusRequester) Do(ctx context.Context) error {
	if s.statusCode >= 300 {
		return &runner.HTTPError{StatusCode: s.statusCode, Body: "error body"}
	}
	return nil
}

type testLogger struct {
	mu   sync.Mutex
	errs []error
}

func (l *testLogger) LogFailure(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func TestWithLoggingRecordsFailures(t *testing.T) {
	logger := &testLogger{}
	req := runner.WithLogging(&statusRequester{statusCode: 500}, logger)

	err := req.Do(context.Background())
	if err == nil {
		t.Fatalf("expected error to pass through")
	}
	if len(logger.errs) != 1 {
		t.Fatalf("expected 1 logged failure, got %d", len(logger.errs))
	}
	if got := err.Error(); got != "HTTP 500: error body" {
		t.Fatalf("unexpected error text %q", got)
	}
}

func TestWithLoggingSkipsSuccesses(t *testing.T) {
	logger := &testLogger{}
	req := runner.WithLogging(&statusRequester{statusCode: 200}, logger)
	if err := req.Do(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logger.errs) != 0 {
		t.Fatalf("successes must not be logged")
	}
}

func TestWithLoggingNilLoggerReturnsInner(t *testing.T) {
	inner := &statusRequester{statusCode: 200}
	if got := runner.WithLogging(inner, nil); got != runner.Requester(inner) {
		t.Fatalf("expected inner requester when logger is nil")
	}
}

type closeCounter struct {
	statusRequester
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return nil
}

func TestWithLoggingForwardsClose(t *testing.T) {
	inner := &closeCounter{statusRequester: statusRequester{statusCode: 200}}
	req := runner.WithLogging(inner, &testLogger{})

	closer, ok := req.(io.Closer)
	if !ok {
		t.Fatal("logging requester does not expose Close")
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if inner.closes != 1 {
		t.Fatalf("inner closed %d times, want 1", inner.closes)
	}

	// An inner requester without Close is fine.
	if err := runner.WithLogging(&statusRequester{}, &testLogger{}).(io.Closer).Close(); err != nil {
		t.Fatalf("Close() on plain requester error = %v", err)
	}
}
