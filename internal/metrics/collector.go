package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torosent/sentimeter/internal/runner"
	"github.com/torosent/sentimeter/internal/runstate"
)

const namespace = "sentimeter"

// Run outcomes used as the outcome label of runs_total.
const (
	OutcomeFinished = "finished"
	OutcomeError    = "error"
)

// Collector owns a private registry so tests and embedded servers never
// collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	predictions  *prometheus.CounterVec
	runs         *prometheus.CounterVec
	running      prometheus.Gauge
	lastSuccess  prometheus.Gauge
	lastRPM      prometheus.Gauge
}

var _ runner.Observer = (*Collector)(nil)

// NewCollector registers all series on a private registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route template and status code.",
		}, []string{"route", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time spent serving HTTP requests, by route template.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Texts classified, by sentiment label.",
		}, []string{"label"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loadtest",
			Name:      "runs_total",
			Help:      "Completed load-test runs, by outcome.",
		}, []string{"outcome"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loadtest",
			Name:      "running",
			Help:      "1 while a load test is running.",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loadtest",
			Name:      "last_successful_requests",
			Help:      "Successful probes of the most recent finished run.",
		}),
		lastRPM: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "loadtest",
			Name:      "last_requests_per_minute",
			Help:      "Requests per minute of the most recent finished run.",
		}),
	}
}

// Registry exposes the private registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveHTTP records one served request. route is the mux path template,
// never the raw path, to keep label cardinality bounded.
func (c *Collector) ObserveHTTP(route string, code int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (c *Collector) ObservePrediction(label string) {
	c.predictions.WithLabelValues(label).Inc()
}

func (c *Collector) RunStarted(string, runner.RunConfig) {
	c.running.Set(1)
}

func (c *Collector) RunFinished(_ string, result runstate.Result) {
	c.running.Set(0)
	c.runs.WithLabelValues(OutcomeFinished).Inc()
	c.lastSuccess.Set(float64(result.SuccessfulRequests))
	c.lastRPM.Set(result.RequestsPerMinute)
}

func (c *Collector) RunFailed(string, error) {
	c.running.Set(0)
	c.runs.WithLabelValues(OutcomeError).Inc()
}
