package httpclient

import (
	"context"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/torosent/sentimeter/internal/config"
	"github.com/torosent/sentimeter/internal/runner"
	"github.com/torosent/sentimeter/internal/tracing"
)

const (
	errorBodyLimit = 512
	drainLimit     = 1 << 20
)

// Requester issues one probe per Do call. Any 2xx response is a success.
type Requester struct {
	client   *http.Client
	builder  *RequestBuilder
	provider *tracing.Provider
}

// NewRequester returns a runner.Requester backed by client. provider may be
// nil.
func NewRequester(client *http.Client, builder *RequestBuilder, provider *tracing.Provider) *Requester {
	return &Requester{client: client, builder: builder, provider: provider}
}

func (r *Requester) Do(ctx context.Context) error {
	if !r.provider.Enabled() {
		_, err := r.do(ctx)
		return err
	}
	ctx, span := tracing.StartProbeSpan(ctx, r.provider.Tracer(), r.builder.Method(), r.builder.Target())
	status, err := r.do(ctx)
	tracing.EndSpan(span, err, attribute.Int("http.response.status_code", status))
	return err
}

// Close drops the run's idle keep-alive connections so their transport
// goroutines exit with the run.
func (r *Requester) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *Requester) do(ctx context.Context) (int, error) {
	req, err := r.builder.Build(ctx)
	if err != nil {
		return 0, err
	}
	if r.provider.ShouldPropagate() {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
		return resp.StatusCode, &runner.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	// Drain so the keep-alive connection goes back to the pool.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	return resp.StatusCode, nil
}

// NewRequesterFactory builds a fresh client and probe for every run. logger,
// when non-nil, receives each failed probe.
func NewRequesterFactory(probe config.ProbeConfig, provider *tracing.Provider, logger runner.FailureLogger) runner.RequesterFactory {
	return func(cfg runner.RunConfig) (runner.Requester, error) {
		builder, err := NewRequestBuilder(cfg.Target.URL(), probe)
		if err != nil {
			return nil, err
		}
		client := NewClient(probe.Timeout, cfg.Threads)
		req := NewRequester(client, builder, provider)
		if logger == nil {
			return req, nil
		}
		return runner.WithLogging(req, logger), nil
	}
}
