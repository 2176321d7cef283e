// Package runner provides the closed-loop load test harness for sentimeter.
//
// A run drives a fixed number of workers against one target for a fixed
// wall-clock duration:
//   - Every worker shares a single absolute deadline computed once per run
//   - Workers issue probes back-to-back with no pacing (closed-loop load)
//   - Successful probes are counted in a shared atomic [Counter]
//   - Failed probes are ignored; they only lower the measured throughput
//
// # Basic Usage
//
// Create a controller around a process-wide state store and a factory that
// builds the probe for a target:
//
//	store := runstate.NewStore()
//	ctrl := runner.NewController(store, factory)
//	ack, result, err := ctrl.Run(ctx, runner.RunConfig{
//		Duration: time.Minute,
//		Threads:  10,
//		Target:   target,
//	})
//
// [Controller.Start] runs the same lifecycle in the background and returns
// as soon as the run has been accepted or rejected. At most one run is active
// per store; a start request while a run is in progress is rejected, never
// queued.
//
// # Requester Interface
//
// The [Requester] interface defines one probe:
//
//	type Requester interface {
//		Do(ctx context.Context) error
//	}
//
// A nil error is a success. Any error, including [*HTTPError] for
// non-2xx responses, is a failure. A Requester that also implements
// [io.Closer] is closed once every worker of its run has returned. Probes
// still in flight [DefaultProbeGrace] after the deadline are cancelled.
//
// # Throughput
//
// The reported metric is requests per minute, derived from the configured
// duration rather than the measured one. See [RequestsPerMinute].
package runner
