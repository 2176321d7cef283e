package runner

import "sync/atomic"

// Counter accumulates successful probes. Inc is safe for concurrent use by
// any number of workers.
type Counter struct {
	n atomic.Int64
}

// Inc records one success.
func (c *Counter) Inc() {
	c.n.Add(1)
}

// Load returns the current count.
func (c *Counter) Load() int64 {
	return c.n.Load()
}
