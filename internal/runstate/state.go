// Package runstate holds the process-wide status of the load-test harness.
//
// A single [Store] is created at process start and injected into the run
// controller and into every status observer. All reads and writes go through
// one mutex; each critical section covers a single transition or snapshot,
// never a whole run, so status polling stays cheap while a run is in flight.
package runstate

import (
	"time"
)

// Status is the lifecycle phase of the current run.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusError    Status = "error"
)

// Result is the immutable outcome of a finished run.
type Result struct {
	SuccessfulRequests int64   `json:"successful_requests"`
	DurationSeconds    float64 `json:"duration_seconds"`
	RequestsPerMinute  float64 `json:"requests_per_minute"`
}

// RunInfo describes the parameters a run was started with.
type RunInfo struct {
	Target          string  `json:"target"`
	DurationSeconds float64 `json:"duration_seconds"`
	Threads         int     `json:"thread_count"`
}

// State is a point-in-time view of the store. Result is only set when
// Status is StatusFinished.
type State struct {
	Status     Status     `json:"status"`
	RunID      string     `json:"run_id,omitempty"`
	Config     *RunInfo   `json:"config,omitempty"`
	Result     *Result    `json:"result"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// clone returns a deep copy so callers never share memory with the store.
func (s State) clone() State {
	out := s
	if s.Config != nil {
		cfg := *s.Config
		out.Config = &cfg
	}
	if s.Result != nil {
		res := *s.Result
		out.Result = &res
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
