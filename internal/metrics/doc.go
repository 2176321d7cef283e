// Package metrics exposes sentimeter's Prometheus metrics.
//
// A [Collector] counts served HTTP requests and classified texts, and
// implements runner.Observer so the run controller can report load-test
// lifecycle transitions:
//
//	collector := metrics.NewCollector()
//	ctrl := runner.NewController(store, factory, runner.WithObserver(collector))
//	router.Handle("/metrics", collector.Handler())
//
// Load-test results are exported as gauges of the last finished run; per-probe
// latency is not tracked.
package metrics
