package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/torosent/perfwatch/internal/config"
	"github.com/torosent/perfwatch/internal/dashboard"
	"github.com/torosent/perfwatch/internal/monitor"
	"github.com/torosent/perfwatch/internal/output"
	"github.com/torosent/perfwatch/internal/threshold"
	"github.com/torosent/perfwatch/internal/tracing"
)

const (
	progressInterval = time.Second
	closeTimeout     = 10 * time.Second
)

func monitorOptions(cfg *config.Config, logger *slog.Logger, tp *tracing.Provider) []monitor.Option {
	return []monitor.Option{
		monitor.WithSampleRate(cfg.SampleRate),
		monitor.WithReportURL(cfg.ReportURL),
		monitor.WithAutoSend(cfg.AutoSend),
		monitor.WithIncludeResources(cfg.Include.Resources),
		monitor.WithIncludeLongTasks(cfg.Include.LongTasks),
		monitor.WithIncludeLayoutShifts(cfg.Include.LayoutShifts),
		monitor.WithSettleDelay(cfg.SettleDelay),
		monitor.WithMemoryInterval(cfg.MemoryInterval),
		monitor.WithExportTimeout(cfg.Export.Timeout),
		monitor.WithRateLimit(cfg.Export.Rate, cfg.Export.Burst),
		monitor.WithTracer(tp.Tracer(), tp.ShouldPropagate()),
		monitor.WithLogger(logger),
	}
}

// views runs the live dashboard or the progress line while a session is
// observed.
type views struct {
	dash     *dashboard.Dashboard
	progress *output.ProgressReporter
	out      io.Writer
}

func startViews(cfg *config.Config, m *monitor.Monitor, sc dashboard.SessionConfig, out io.Writer, shutdown func()) (*views, error) {
	v := &views{out: out}
	switch {
	case cfg.Dashboard:
		dash, err := dashboard.New(m, sc, shutdown)
		if err != nil {
			return nil, err
		}
		dash.Start()
		v.dash = dash
	case !cfg.JSONOutput:
		v.progress = output.NewProgressReporter(m, progressInterval, out)
		v.progress.Start()
	}
	return v, nil
}

func (v *views) stop() {
	if v.dash != nil {
		v.dash.Stop()
	}
	if v.progress != nil {
		v.progress.Stop()
		fmt.Fprintln(v.out)
	}
}

// finish prints the session report and fails when a threshold does not hold.
func finish(out io.Writer, cfg *config.Config, m *monitor.Monitor, thresholds []threshold.Threshold, url string, elapsed time.Duration) error {
	all := m.GetAllMetrics()
	report := output.Report{
		SessionID: m.SessionID(),
		URL:       url,
		Duration:  elapsed,
		Sampled:   m.Active(),
		Metrics:   all,
		Ratings:   threshold.Ratings(all.Metrics),
	}
	if cfg.ReportURL != "" {
		stats := m.ExportStats()
		report.Export = &stats
	}
	for _, f := range m.Failures() {
		report.Failures = append(report.Failures, f.Adapter)
	}

	if len(thresholds) > 0 && m.Active() {
		body, err := json.Marshal(m.Payload())
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		report.Thresholds = threshold.NewEvaluator(thresholds).Evaluate(body)
	}

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(out, report); err != nil {
			return err
		}
	} else {
		output.PrintReport(out, report)
	}

	if !threshold.AllPassed(report.Thresholds) {
		failed := 0
		for _, r := range report.Thresholds {
			if !r.Pass {
				failed++
			}
		}
		return fmt.Errorf("%d of %d thresholds failed", failed, len(report.Thresholds))
	}
	return nil
}
