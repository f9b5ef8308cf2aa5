package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/torosent/perfwatch/internal/export"
	"github.com/torosent/perfwatch/internal/metrics"
	"github.com/torosent/perfwatch/internal/monitor"
	"github.com/torosent/perfwatch/internal/threshold"
)

// Report is everything printed at the end of a session.
type Report struct {
	SessionID  string                  `json:"sessionId"`
	URL        string                  `json:"url"`
	Duration   time.Duration           `json:"-"`
	DurationMs float64                 `json:"durationMs"`
	Sampled    bool                    `json:"sampled"`
	Metrics    monitor.Metrics         `json:"session"`
	Ratings    []threshold.VitalRating `json:"ratings,omitempty"`
	Thresholds []threshold.Result      `json:"thresholds,omitempty"`
	Export     *export.Stats           `json:"export,omitempty"`
	Failures   []string                `json:"unavailable,omitempty"`
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	m := r.Metrics.Metrics

	fmt.Fprintln(w, "\n--- Performance Report ---")
	fmt.Fprintf(w, "URL:               %s\n", r.URL)
	fmt.Fprintf(w, "Session:           %s\n", r.SessionID)
	fmt.Fprintf(w, "Duration:          %s\n", r.Duration)
	if !r.Sampled {
		fmt.Fprintln(w, "Session was not sampled; nothing collected.")
		return
	}

	fmt.Fprintln(w, "\nWeb Vitals:")
	if len(r.Ratings) == 0 {
		fmt.Fprintln(w, "  None reported")
	}
	for _, v := range r.Ratings {
		fmt.Fprintf(w, "  %-16s %s  (%s)\n", v.Name+":", formatVital(v.Name, v.Value), v.Rating)
	}

	fmt.Fprintln(w, "\nNavigation:")
	writeMillis(w, "TTFB", m.TTFB)
	writeMillis(w, "DNS", m.DNSTime)
	writeMillis(w, "TCP Connect", m.TCPConnectTime)
	writeMillis(w, "Request", m.RequestTime)
	writeMillis(w, "Response", m.ResponseTime)
	writeMillis(w, "DOM Processing", m.DOMProcessingTime)
	writeMillis(w, "DOM Ready", m.DOMReadyTime)
	writeMillis(w, "Page Load", m.PageLoadTime)

	if m.AverageFPS != nil || m.Memory != nil || m.DOMStats != nil {
		fmt.Fprintln(w, "\nRuntime:")
	}
	if m.AverageFPS != nil {
		fmt.Fprintf(w, "  Average FPS:     %.1f (%d samples)\n", *m.AverageFPS, len(r.Metrics.FPSData))
	}
	if m.Memory != nil {
		fmt.Fprintf(w, "  JS Heap:         %s used / %s total (limit %s)\n",
			formatBytes(m.Memory.UsedJSHeapSize), formatBytes(m.Memory.TotalJSHeapSize), formatBytes(m.Memory.JSHeapSizeLimit))
	}
	if d := m.DOMStats; d != nil {
		fmt.Fprintf(w, "  DOM:             %d elements, depth %d, %s\n",
			d.Elements, d.MaxDOMDepth, formatBytes(int64(d.DocumentSize)))
	}

	if rows := metrics.FlattenResourceSummary(m.ResourceCounts, m.ResourceSizes); len(rows) > 0 {
		fmt.Fprintln(w, "\nResources:")
		for _, row := range rows {
			fmt.Fprintf(w, "  - %s: count=%d, size=%s\n", row.Type, row.Count, formatBytes(row.Size))
		}
	}
	writeSummary(w, "Resource Timing", m.ResourceTiming)
	writeSummary(w, "Long Tasks", m.LongTaskTiming)

	if len(r.Metrics.Measures) > 0 {
		fmt.Fprintln(w, "\nMeasures:")
		names := make([]string, 0, len(r.Metrics.Measures))
		for name := range r.Metrics.Measures {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %.1fms\n", name, r.Metrics.Measures[name])
		}
	}

	if len(r.Thresholds) > 0 {
		fmt.Fprintln(w, "\nThresholds:")
		for _, res := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", res.Message)
		}
	}

	if r.Export != nil {
		fmt.Fprintln(w, "\nExport:")
		fmt.Fprintf(w, "  sent=%d, failed=%d, dropped=%d, bytes=%d\n",
			r.Export.Sent, r.Export.Failed, r.Export.Dropped, r.Export.BytesSent)
		if r.Export.LastError != "" {
			fmt.Fprintf(w, "  last error: %s\n", r.Export.LastError)
		}
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "\nUnavailable:")
		fmt.Fprintf(w, "  %s\n", strings.Join(r.Failures, ", "))
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	r.DurationMs = float64(r.Duration) / float64(time.Millisecond)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeMillis(w io.Writer, label string, v *float64) {
	if v == nil {
		return
	}
	fmt.Fprintf(w, "  %-16s %.1fms\n", label+":", *v)
}

func writeSummary(w io.Writer, label string, s *metrics.DurationSummary) {
	if s == nil || s.Count == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", label)
	fmt.Fprintf(w, "  count=%d, min=%.1fms, mean=%.1fms, p50=%.1fms, p90=%.1fms, p99=%.1fms, max=%.1fms\n",
		s.Count, s.Min, s.Mean, s.P50, s.P90, s.P99, s.Max)
}

func formatVital(name string, v float64) string {
	if name == "CLS" {
		return fmt.Sprintf("%.3f", v)
	}
	return fmt.Sprintf("%.0fms", v)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
