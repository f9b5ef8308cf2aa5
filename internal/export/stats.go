package export

import (
	"sync"
	"time"
)

// Stats counts deliveries of one exporter.
type Stats struct {
	Sent      int64
	Failed    int64
	Dropped   int64
	BytesSent int64
	LastSent  time.Time
	LastError string
}

type counters struct {
	mu    sync.Mutex
	stats Stats
}

func (c *counters) sent(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Sent++
	c.stats.BytesSent += int64(bytes)
	c.stats.LastSent = time.Now()
}

func (c *counters) failed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Failed++
	c.stats.LastError = err.Error()
}

func (c *counters) dropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Dropped++
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
