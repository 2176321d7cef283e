package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/sentimeter/internal/runstate"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still running.
var ErrRunInProgress = errors.New("a load test is already running")

// DefaultProbeGrace is how long a probe may run past the run deadline before
// it is cancelled.
const DefaultProbeGrace = 2 * time.Second

// Ack is the synchronous answer to a start request.
type Ack struct {
	Accepted bool   `json:"accepted"`
	RunID    string `json:"run_id,omitempty"`
	Message  string `json:"message"`
}

// Observer is notified about run lifecycle transitions.
type Observer interface {
	RunStarted(runID string, cfg RunConfig)
	RunFinished(runID string, result runstate.Result)
	RunFailed(runID string, err error)
}

type nopObserver struct{}

func (nopObserver) RunStarted(string, RunConfig)        {}
func (nopObserver) RunFinished(string, runstate.Result) {}
func (nopObserver) RunFailed(string, error)             {}

// Controller owns the lifecycle of load-test runs against a shared store.
type Controller struct {
	store    *runstate.Store
	factory  RequesterFactory
	observer Observer
	tracer   trace.Tracer
	newID    func() string
	grace    time.Duration

	background sync.WaitGroup
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithObserver registers an observer for run transitions.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithTracer emits one span per run.
func WithTracer(t trace.Tracer) ControllerOption {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(f func() string) ControllerOption {
	return func(c *Controller) {
		if f != nil {
			c.newID = f
		}
	}
}

// WithProbeGrace bounds how far past the deadline an in-flight probe may run.
// A probe cut off this way counts as failed.
func WithProbeGrace(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d >= 0 {
			c.grace = d
		}
	}
}

// NewController returns a Controller that records runs in store and builds
// one Requester per run with factory.
func NewController(store *runstate.Store, factory RequesterFactory, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:    store,
		factory:  factory,
		observer: nopObserver{},
		tracer:   noop.NewTracerProvider().Tracer("sentimeter"),
		newID:    func() string { return ulid.Make().String() },
		grace:    DefaultProbeGrace,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes a run and blocks until every worker has returned.
// It returns ErrRunInProgress, with a rejected Ack, when another run is active.
func (c *Controller) Run(ctx context.Context, cfg RunConfig) (Ack, runstate.Result, error) {
	ack, runID := c.accept(cfg)
	if !ack.Accepted {
		return ack, runstate.Result{}, ErrRunInProgress
	}
	result, err := c.execute(ctx, runID, cfg)
	return ack, result, err
}

// Start executes a run in the background and returns once it has been
// accepted or rejected. ctx bounds the background run, so callers pass a
// process-lifetime context rather than a request-scoped one.
func (c *Controller) Start(ctx context.Context, cfg RunConfig) Ack {
	ack, runID := c.accept(cfg)
	if !ack.Accepted {
		return ack
	}
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		_, _ = c.execute(ctx, runID, cfg)
	}()
	return ack
}

// Wait blocks until all runs launched with Start have completed.
func (c *Controller) Wait() {
	c.background.Wait()
}

// Snapshot returns the current run state.
func (c *Controller) Snapshot() runstate.State {
	return c.store.Snapshot()
}

func (c *Controller) accept(cfg RunConfig) (Ack, string) {
	runID := c.newID()
	info := runstate.RunInfo{
		Target:          cfg.Target.URL(),
		DurationSeconds: cfg.DurationSeconds(),
		Threads:         cfg.Threads,
	}
	if !c.store.TryStart(runID, info, time.Now()) {
		return Ack{Accepted: false, Message: ErrRunInProgress.Error()}, ""
	}
	c.observer.RunStarted(runID, cfg)
	return Ack{Accepted: true, RunID: runID, Message: "load test started"}, runID
}

func (c *Controller) execute(ctx context.Context, runID string, cfg RunConfig) (runstate.Result, error) {
	ctx, span := c.tracer.Start(ctx, "loadtest run",
		trace.WithAttributes(
			attribute.String("sentimeter.run_id", runID),
			attribute.String("sentimeter.target", cfg.Target.URL()),
			attribute.Int("sentimeter.threads", cfg.Threads),
			attribute.Float64("sentimeter.duration_seconds", cfg.DurationSeconds()),
		),
	)
	defer span.End()

	successes, err := c.drive(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.store.Fail(runID, err, time.Now())
		c.observer.RunFailed(runID, err)
		return runstate.Result{}, err
	}

	result := runstate.Result{
		SuccessfulRequests: successes,
		DurationSeconds:    cfg.DurationSeconds(),
		RequestsPerMinute:  RequestsPerMinute(successes, cfg.DurationSeconds()),
	}
	span.SetAttributes(attribute.Int64("sentimeter.successful_requests", successes))
	span.SetStatus(codes.Ok, "")
	c.store.Finish(runID, result, time.Now())
	c.observer.RunFinished(runID, result)
	return result, nil
}

// drive launches the workers, joins them and returns the success count.
func (c *Controller) drive(ctx context.Context, cfg RunConfig) (int64, error) {
	if c.factory == nil {
		return 0, errors.New("requester factory is not configured")
	}
	requester, err := c.factory(cfg)
	if err != nil {
		return 0, fmt.Errorf("build requester for %s: %w", cfg.Target, err)
	}
	if closer, ok := requester.(io.Closer); ok {
		defer closer.Close()
	}

	deadline := time.Now().Add(cfg.Duration)
	counter := &Counter{}

	probeCtx, cancel := context.WithDeadline(ctx, deadline.Add(c.grace))
	defer cancel()

	g, gctx := errgroup.WithContext(probeCtx)
	for i := 0; i < cfg.Threads; i++ {
		w := worker{deadline: deadline, counter: counter, requester: requester}
		g.Go(func() error { return w.run(gctx) })
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("run cancelled: %w", err)
	}
	return counter.Load(), nil
}

// RequestsPerMinute converts a success count over the configured duration
// into requests per minute. A non-positive duration yields 0.
func RequestsPerMinute(successes int64, durationSeconds float64) float64 {
	if durationSeconds <= 0 {
		return 0
	}
	return float64(successes) * (60 / durationSeconds)
}
