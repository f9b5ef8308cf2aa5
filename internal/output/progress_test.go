package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/perfwatch/internal/metrics"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func sessionStore() *metrics.Store {
	store := metrics.NewStore()
	store.Record(metrics.KindResource, []metrics.Observation{metrics.Resource{Name: "app.js", Type: "script", TransferSize: 1000, Duration: 40}})
	store.Record(metrics.KindLongTask, []metrics.Observation{metrics.LongTask{Duration: 120, StartTime: 600}})
	store.Record(metrics.KindLayoutShift, []metrics.Observation{metrics.LayoutShift{Value: 0.05, StartTime: 500}})
	store.Record(metrics.KindFrame, []metrics.Observation{metrics.FrameSample{Timestamp: 1000, FPS: 58}})
	return store
}

func TestProgressLine(t *testing.T) {
	line := progressLine(2500*time.Millisecond, sessionStore().Snapshot())

	for _, want := range []string{"Elapsed: 2s", "Resources: 1", "Long Tasks: 1", "CLS: 0.050", "TBT: 70ms", "FPS: 58"} {
		if !strings.Contains(line, want) {
			t.Errorf("progress line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "LCP") {
		t.Errorf("progress line %q reports LCP before it is known", line)
	}
}

func TestProgressReporterBasic(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewProgressReporter(sessionStore(), 100*time.Millisecond, &buf)

	if reporter == nil {
		t.Fatal("Expected non-nil reporter")
	}

	reporter.Stop()
}

func TestProgressReporterFormatting(t *testing.T) {
	var buf syncBuffer
	reporter := NewProgressReporter(sessionStore(), 20*time.Millisecond, &buf)
	reporter.Start()
	reporter.Start()

	time.Sleep(100 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	if !strings.Contains(buf.String(), "Resources:") {
		t.Error("Expected 'Resources:' in progress output")
	}
}
