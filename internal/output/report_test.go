package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/torosent/perfwatch/internal/export"
	"github.com/torosent/perfwatch/internal/metrics"
	"github.com/torosent/perfwatch/internal/monitor"
	"github.com/torosent/perfwatch/internal/threshold"
)

func sampleReport(t *testing.T) Report {
	t.Helper()
	store := sessionStore()
	store.SetLCP(3100)
	store.SetMeasure("checkout", 42)
	store.Finalize(&metrics.Document{SerializedSize: 2048, Root: &metrics.Node{Type: 9, Children: []*metrics.Node{{Type: 1, Name: "html"}}}})
	snap := store.Snapshot()

	th, err := threshold.Parse("TBT < 50")
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}

	return Report{
		SessionID: "01HX0000000000000000000000",
		URL:       "https://shop.example/",
		Duration:  3 * time.Second,
		Sampled:   true,
		Metrics: monitor.Metrics{
			Metrics:      snap.Metrics,
			Resources:    snap.Resources,
			LongTasks:    snap.LongTasks,
			LayoutShifts: snap.LayoutShifts,
			Measures:     snap.Measures,
			FPSData:      snap.FPSData,
		},
		Ratings:    threshold.Ratings(snap.Metrics),
		Thresholds: threshold.NewEvaluator([]threshold.Threshold{th}).Evaluate(body),
		Export:     &export.Stats{Sent: 1, Failed: 1, LastError: "collector responded 503"},
		Failures:   []string{"memory"},
	}
}

func TestPrintReportBasic(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport(t))

	output := buf.String()
	for _, want := range []string{
		"--- Performance Report ---",
		"https://shop.example/",
		"LCP:",
		"3100ms  (needs-improvement)",
		"CLS:",
		"0.050  (good)",
		"Average FPS:     58.0 (1 samples)",
		"- script: count=1, size=1000 B",
		"Long Tasks:",
		"checkout: 42.0ms",
		"✗ TBT < 50",
		"sent=1, failed=1",
		"last error: collector responded 503",
		"Unavailable:",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("report missing %q\n%s", want, output)
		}
	}
}

func TestPrintReportNotSampled(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, Report{URL: "https://shop.example/", Duration: time.Second})

	output := buf.String()
	if !strings.Contains(output, "not sampled") {
		t.Errorf("expected not sampled notice, got %q", output)
	}
	if strings.Contains(output, "Web Vitals") {
		t.Errorf("unsampled report printed vitals: %q", output)
	}
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleReport(t)); err != nil {
		t.Fatalf("PrintJSONReport failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["durationMs"] != 3000.0 {
		t.Errorf("durationMs = %v, want 3000", decoded["durationMs"])
	}
	session, ok := decoded["session"].(map[string]any)
	if !ok {
		t.Fatalf("session = %v", decoded["session"])
	}
	if m := session["metrics"].(map[string]any); m["TBT"] != 70.0 {
		t.Errorf("metrics.TBT = %v, want 70", m["TBT"])
	}
	if ratings, _ := decoded["ratings"].([]any); len(ratings) != 3 {
		t.Errorf("ratings = %v, want 3 entries", decoded["ratings"])
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestPrintJSONReportWriteError(t *testing.T) {
	if err := PrintJSONReport(failingWriter{}, sampleReport(t)); err == nil {
		t.Fatal("expected write error")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
