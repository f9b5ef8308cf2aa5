package config

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Session flags
	flags.String("url", "", "Page URL to monitor")
	flags.String("scenario", "", "Path to a replay scenario (YAML or JSON)")
	flags.Float64("sample-rate", 100, "Percentage of sessions that are monitored (0-100)")
	flags.DurationP("duration", "d", 0, "How long to observe before teardown (0 means until interrupted)")
	flags.Duration("settle-delay", time.Second, "Delay after the load event before navigation metrics settle")
	flags.Duration("memory-interval", 10*time.Second, "Interval between memory samples")
	flags.Float64("speed", 0, "Replay speed factor (0 replays instantly)")

	// Export flags
	flags.String("report-url", "", "Endpoint receiving exported payloads (http, https, ws or wss)")
	flags.Bool("auto-send", false, "Export once navigation metrics settle")
	flags.Bool("include-resources", false, "Attach resource entries to payloads")
	flags.Bool("include-long-tasks", false, "Attach long task entries to payloads")
	flags.Bool("include-layout-shifts", false, "Attach layout shift entries to payloads")
	flags.Duration("export-timeout", 5*time.Second, "Per-delivery timeout")
	flags.Float64("export-rate", 0, "Async exports per second (0 means unlimited)")
	flags.Int("export-burst", 1, "Async export burst size")

	// Browser flags
	flags.String("remote-url", "", "DevTools websocket URL of a running browser")
	flags.Bool("headful", false, "Show the launched browser window")
	flags.Bool("stealth", false, "Open the page with stealth evasions")
	flags.Duration("navigate-timeout", 30*time.Second, "Page navigation timeout")
	flags.Duration("frame-flush", 250*time.Millisecond, "Interval at which the page flushes frame timestamps")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.Bool("dashboard", false, "Show live terminal dashboard with metrics")
	flags.String("log-level", "warn", "Log level: debug, info, warn or error")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Metric budgets (repeatable, e.g., 'metrics.LCP < 2500')")

	// Tracing flags
	flags.String("otlp-endpoint", "", "OTLP collector endpoint for export spans")
	flags.String("otlp-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("otlp-insecure", false, "Disable TLS for the OTLP exporter")

	// Receiver flags
	flags.String("addr", ":8080", "Listen address of the collection endpoint")
	flags.Int("max-payloads", 1000, "Payloads kept in memory by the collection endpoint")
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	for _, o := range []struct {
		name string
		dst  *string
	}{
		{"url", &cfg.URL},
		{"scenario", &cfg.Scenario},
		{"report-url", &cfg.ReportURL},
		{"remote-url", &cfg.Browser.RemoteURL},
		{"log-level", &cfg.LogLevel},
		{"otlp-endpoint", &cfg.Tracing.Endpoint},
		{"otlp-protocol", &cfg.Tracing.Protocol},
		{"addr", &cfg.Receiver.Addr},
	} {
		if !fs.Changed(o.name) {
			continue
		}
		val, err := fs.GetString(o.name)
		if err != nil {
			return err
		}
		*o.dst = strings.TrimSpace(val)
	}

	for _, o := range []struct {
		name string
		dst  *bool
	}{
		{"auto-send", &cfg.AutoSend},
		{"include-resources", &cfg.Include.Resources},
		{"include-long-tasks", &cfg.Include.LongTasks},
		{"include-layout-shifts", &cfg.Include.LayoutShifts},
		{"headful", &cfg.Browser.Headful},
		{"stealth", &cfg.Browser.Stealth},
		{"json-output", &cfg.JSONOutput},
		{"dashboard", &cfg.Dashboard},
		{"otlp-insecure", &cfg.Tracing.Insecure},
	} {
		if !fs.Changed(o.name) {
			continue
		}
		val, err := fs.GetBool(o.name)
		if err != nil {
			return err
		}
		*o.dst = val
	}

	for _, o := range []struct {
		name string
		dst  *time.Duration
	}{
		{"duration", &cfg.Duration},
		{"settle-delay", &cfg.SettleDelay},
		{"memory-interval", &cfg.MemoryInterval},
		{"export-timeout", &cfg.Export.Timeout},
		{"navigate-timeout", &cfg.Browser.NavigateTimeout},
		{"frame-flush", &cfg.Browser.FrameFlush},
	} {
		if !fs.Changed(o.name) {
			continue
		}
		val, err := fs.GetDuration(o.name)
		if err != nil {
			return err
		}
		*o.dst = val
	}

	for _, o := range []struct {
		name string
		dst  *float64
	}{
		{"sample-rate", &cfg.SampleRate},
		{"speed", &cfg.Speed},
		{"export-rate", &cfg.Export.Rate},
	} {
		if !fs.Changed(o.name) {
			continue
		}
		val, err := fs.GetFloat64(o.name)
		if err != nil {
			return err
		}
		*o.dst = val
	}

	if fs.Changed("export-burst") {
		val, err := fs.GetInt("export-burst")
		if err != nil {
			return err
		}
		cfg.Export.Burst = val
	}
	if fs.Changed("max-payloads") {
		val, err := fs.GetInt("max-payloads")
		if err != nil {
			return err
		}
		cfg.Receiver.MaxPayloads = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}

	return nil
}
