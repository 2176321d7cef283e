package output

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

// ProgressReporter draws a console spinner with elapsed and total run time
// while a CLI run is in flight.
type ProgressReporter struct {
	total    time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
	width    int
}

// NewProgressReporter creates a reporter that redraws every interval.
func NewProgressReporter(total, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &ProgressReporter{
		total:    total,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins drawing in a background goroutine. Repeated calls are no-ops.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return
	}
	p.start = time.Now()
	go p.run()
}

// Stop halts drawing and clears the spinner line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprint(p.writer, "\r"+strings.Repeat(" ", p.width)+"\r")
		return
	}
	p.ticker.Stop()
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	frame := 0
	for {
		select {
		case <-p.ticker.C:
			line := fmt.Sprintf("\r Running test... %s %s / %s",
				spinnerFrames[frame%len(spinnerFrames)],
				formatClock(time.Since(p.start)),
				formatClock(p.total))
			if len(line) > p.width {
				p.width = len(line)
			}
			fmt.Fprint(p.writer, line)
			frame++
		case <-p.done:
			return
		}
	}
}

// formatClock renders d as mm:ss.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
