package runner

import (
	"context"
	"fmt"
	"time"
)

type probeOutcome int

const (
	probeSucceeded probeOutcome = iota
	probeFailed
)

func outcomeOf(err error) probeOutcome {
	if err != nil {
		return probeFailed
	}
	return probeSucceeded
}

// worker issues probes back-to-back until the shared deadline passes.
type worker struct {
	deadline  time.Time
	counter   *Counter
	requester Requester
}

// run returns nil once the deadline passes or ctx is cancelled. A panic in
// the requester is returned as an error so the controller can fail the run.
func (w worker) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	for time.Now().Before(w.deadline) {
		if ctx.Err() != nil {
			return nil
		}
		switch outcomeOf(w.requester.Do(ctx)) {
		case probeSucceeded:
			w.counter.Inc()
		case probeFailed:
			// Ignored: a failed probe only lowers the measured throughput.
		}
	}
	return nil
}
