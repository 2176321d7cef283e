package runstate

import (
	"sync"
	"time"
)

// Store serializes access to the current run state.
type Store struct {
	mu    sync.Mutex
	state State
}

// NewStore returns a store in the idle state.
func NewStore() *Store {
	return &Store{state: State{Status: StatusIdle}}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// TryStart moves the store to running for the given run. It reports false,
// leaving the state untouched, when another run is already running.
func (s *Store) TryStart(runID string, info RunInfo, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status == StatusRunning {
		return false
	}
	started := now
	s.state = State{
		Status:    StatusRunning,
		RunID:     runID,
		Config:    &info,
		StartedAt: &started,
	}
	return true
}

// Finish records the result of the running run. Calls for a run that is no
// longer current are ignored.
func (s *Store) Finish(runID string, result Result, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isCurrent(runID) {
		return false
	}
	finished := now
	s.state.Status = StatusFinished
	s.state.Result = &result
	s.state.Error = ""
	s.state.FinishedAt = &finished
	return true
}

// Fail marks the running run as failed and drops any result.
func (s *Store) Fail(runID string, err error, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isCurrent(runID) {
		return false
	}
	finished := now
	s.state.Status = StatusError
	s.state.Result = nil
	s.state.Error = "run failed"
	if err != nil {
		s.state.Error = err.Error()
	}
	s.state.FinishedAt = &finished
	return true
}

func (s *Store) isCurrent(runID string) bool {
	return s.state.Status == StatusRunning && s.state.RunID == runID
}
