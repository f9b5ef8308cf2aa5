package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

type Config struct {
	URL            string         `mapstructure:"url"`
	Scenario       string         `mapstructure:"scenario"`
	SampleRate     float64        `mapstructure:"sample_rate"`
	ReportURL      string         `mapstructure:"report_url"`
	AutoSend       bool           `mapstructure:"auto_send"`
	Include        IncludeConfig  `mapstructure:"include"`
	SettleDelay    time.Duration  `mapstructure:"settle_delay"`
	MemoryInterval time.Duration  `mapstructure:"memory_interval"`
	Duration       time.Duration  `mapstructure:"duration"`
	Export         ExportConfig   `mapstructure:"export"`
	Browser        BrowserConfig  `mapstructure:"browser"`
	Speed          float64        `mapstructure:"speed"`
	JSONOutput     bool           `mapstructure:"json_output"`
	Dashboard      bool           `mapstructure:"dashboard"`
	LogLevel       string         `mapstructure:"log_level"`
	Thresholds     []string       `mapstructure:"thresholds"`
	Tracing        TracingConfig  `mapstructure:"tracing"`
	Receiver       ReceiverConfig `mapstructure:"receiver"`
	ConfigFile     string         `mapstructure:"-"`
}

// IncludeConfig selects the raw categories attached to exported payloads.
type IncludeConfig struct {
	Resources    bool `mapstructure:"resources"`
	LongTasks    bool `mapstructure:"long_tasks"`
	LayoutShifts bool `mapstructure:"layout_shifts"`
}

type ExportConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Rate    float64       `mapstructure:"rate"` // async sends per second, 0 = unlimited
	Burst   int           `mapstructure:"burst"`
}

type BrowserConfig struct {
	RemoteURL       string        `mapstructure:"remote_url"` // attach to a running Chrome instead of launching one
	Headful         bool          `mapstructure:"headful"`
	Stealth         bool          `mapstructure:"stealth"`
	NavigateTimeout time.Duration `mapstructure:"navigate_timeout"`
	FrameFlush      time.Duration `mapstructure:"frame_flush"`
}

// TracingConfig configures OpenTelemetry export of delivery spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an endpoint was configured, directly or through
// OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate defaults to true when tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type ReceiverConfig struct {
	Addr        string `mapstructure:"addr"`
	MaxPayloads int    `mapstructure:"max_payloads"`
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Command names the subcommand a configuration is validated for.
type Command string

const (
	CommandRun     Command = "run"
	CommandReplay  Command = "replay"
	CommandReceive Command = "receive"
)

func (c Config) Validate(cmd Command) error {
	var issues []string

	switch cmd {
	case CommandRun:
		if strings.TrimSpace(c.URL) == "" {
			issues = append(issues, "url is required (use --help for usage information)")
		} else if !isAbsoluteURL(c.URL, "http", "https", "file") {
			issues = append(issues, fmt.Sprintf("url %q must be an absolute http, https or file URL", c.URL))
		}
	case CommandReplay:
		if strings.TrimSpace(c.Scenario) == "" {
			issues = append(issues, "scenario is required")
		}
		if c.Speed < 0 {
			issues = append(issues, "speed must be >= 0")
		}
	case CommandReceive:
		if strings.TrimSpace(c.Receiver.Addr) == "" {
			issues = append(issues, "receiver: addr is required")
		}
		if c.Receiver.MaxPayloads < 0 {
			issues = append(issues, "receiver: max_payloads must be >= 0")
		}
	}

	if cmd != CommandReceive {
		issues = append(issues, c.validateMonitor()...)
	}

	if c.Dashboard && c.JSONOutput {
		issues = append(issues, "dashboard and json-output are mutually exclusive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log level %q is not supported", c.LogLevel))
	}

	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if c.Tracing.Insecure && c.Tracing.Enabled() {
		fmt.Fprintln(os.Stderr, "WARNING: OTLP exporter TLS is DISABLED (insecure: true). Spans are sent in clear text.")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func (c Config) validateMonitor() []string {
	var issues []string
	if c.SampleRate < 0 || c.SampleRate > 100 {
		issues = append(issues, fmt.Sprintf("sample_rate must be between 0 and 100, got %g", c.SampleRate))
	}
	if c.ReportURL != "" && !isAbsoluteURL(c.ReportURL, "http", "https", "ws", "wss") {
		issues = append(issues, fmt.Sprintf("report_url %q must be an absolute http(s) or ws(s) URL", c.ReportURL))
	}
	if c.AutoSend && c.ReportURL == "" {
		issues = append(issues, "auto_send requires report_url")
	}
	if c.SettleDelay < 0 {
		issues = append(issues, "settle_delay must be >= 0")
	}
	if c.MemoryInterval < 0 {
		issues = append(issues, "memory_interval must be >= 0")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}
	if c.Export.Timeout < 0 {
		issues = append(issues, "export: timeout must be >= 0")
	}
	if c.Export.Rate < 0 {
		issues = append(issues, "export: rate must be >= 0")
	}
	if c.Export.Burst < 0 {
		issues = append(issues, "export: burst must be >= 0")
	}
	if c.Browser.NavigateTimeout < 0 {
		issues = append(issues, "browser: navigate_timeout must be >= 0")
	}
	if c.Browser.FrameFlush < 0 {
		issues = append(issues, "browser: frame_flush must be >= 0")
	}
	return issues
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}

func isAbsoluteURL(raw string, schemes ...string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return false
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return s == "file" || u.Host != ""
		}
	}
	return false
}
