package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/perfwatch/internal/metrics"
)

// SnapshotSource is anything that can report the current session state.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   SnapshotSource
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
	start    time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source SnapshotSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		start:    time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		return
	}
	p.ticker.Stop()
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, progressLine(time.Since(p.start), p.source.Snapshot()))
		case <-p.done:
			return
		}
	}
}

func progressLine(elapsed time.Duration, snap metrics.Snapshot) string {
	m := snap.Metrics
	line := fmt.Sprintf("\rElapsed: %s | Resources: %d | Long Tasks: %d | Shifts: %d",
		elapsed.Truncate(time.Second), len(snap.Resources), len(snap.LongTasks), len(snap.LayoutShifts))
	if m.CLS != nil {
		line += fmt.Sprintf(" | CLS: %.3f", *m.CLS)
	}
	if m.TBT != nil {
		line += fmt.Sprintf(" | TBT: %.0fms", *m.TBT)
	}
	if m.LCP != nil {
		line += fmt.Sprintf(" | LCP: %.0fms", *m.LCP)
	}
	if n := len(snap.FPSData); n > 0 {
		line += fmt.Sprintf(" | FPS: %d", snap.FPSData[n-1].FPS)
	}
	return line
}
