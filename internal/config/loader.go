package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns the configuration used when neither a file nor a flag sets
// a value.
func Defaults() Config {
	return Config{
		SampleRate:     100,
		SettleDelay:    time.Second,
		MemoryInterval: 10 * time.Second,
		Export:         ExportConfig{Timeout: 5 * time.Second, Burst: 1},
		Browser:        BrowserConfig{NavigateTimeout: 30 * time.Second, FrameFlush: 250 * time.Millisecond},
		LogLevel:       "warn",
		Tracing:        TracingConfig{Protocol: "grpc", SampleRate: 1.0},
		Receiver:       ReceiverConfig{Addr: ":8080", MaxPayloads: 1000},
	}
}

// FromFlags builds a Config from an already parsed flag set, such as the one
// of a cobra subcommand registered with RegisterFlags.
func (Loader) FromFlags(flagSet *pflag.FlagSet) (*Config, error) {
	var configPath string
	if f := flagSet.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.ReportURL = strings.TrimSpace(cfg.ReportURL)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(cfg.Tracing.Protocol))

	return &cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if err := readString(settings, &cfg.URL, "url"); err != nil {
		return err
	}
	if err := readString(settings, &cfg.Scenario, "scenario"); err != nil {
		return err
	}
	if err := readFloat(settings, &cfg.SampleRate, "sample_rate", "samplerate", "sample-rate"); err != nil {
		return err
	}
	if err := readString(settings, &cfg.ReportURL, "report_url", "reporturl", "report-url"); err != nil {
		return err
	}
	if err := readBool(settings, &cfg.AutoSend, "auto_send", "autosend", "auto-send"); err != nil {
		return err
	}
	if err := readDuration(settings, &cfg.SettleDelay, "settle_delay", "settledelay", "settle-delay"); err != nil {
		return err
	}
	if err := readDuration(settings, &cfg.MemoryInterval, "memory_interval", "memoryinterval", "memory-interval"); err != nil {
		return err
	}
	if err := readDuration(settings, &cfg.Duration, "duration"); err != nil {
		return err
	}
	if err := readFloat(settings, &cfg.Speed, "speed"); err != nil {
		return err
	}
	if err := readBool(settings, &cfg.JSONOutput, "json_output", "jsonoutput", "json-output"); err != nil {
		return err
	}
	if err := readBool(settings, &cfg.Dashboard, "dashboard"); err != nil {
		return err
	}
	if err := readString(settings, &cfg.LogLevel, "log_level", "loglevel", "log-level"); err != nil {
		return err
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	sections := []struct {
		name  string
		apply func(map[string]interface{}) error
	}{
		{"include", func(s map[string]interface{}) error { return buildIncludeConfig(&cfg.Include, s) }},
		{"export", func(s map[string]interface{}) error { return buildExportConfig(&cfg.Export, s) }},
		{"browser", func(s map[string]interface{}) error { return buildBrowserConfig(&cfg.Browser, s) }},
		{"tracing", func(s map[string]interface{}) error { return buildTracingConfig(&cfg.Tracing, s) }},
		{"receiver", func(s map[string]interface{}) error { return buildReceiverConfig(&cfg.Receiver, s) }},
	}
	for _, section := range sections {
		raw, ok := lookupSetting(settings, section.name)
		if !ok || raw == nil {
			continue
		}
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", section.name, err)
		}
		if err := section.apply(entry); err != nil {
			return fmt.Errorf("%s: %w", section.name, err)
		}
	}

	return nil
}

func buildIncludeConfig(inc *IncludeConfig, settings map[string]interface{}) error {
	if err := readBool(settings, &inc.Resources, "resources"); err != nil {
		return err
	}
	if err := readBool(settings, &inc.LongTasks, "long_tasks", "longtasks", "long-tasks"); err != nil {
		return err
	}
	return readBool(settings, &inc.LayoutShifts, "layout_shifts", "layoutshifts", "layout-shifts")
}

func buildExportConfig(exp *ExportConfig, settings map[string]interface{}) error {
	if err := readDuration(settings, &exp.Timeout, "timeout"); err != nil {
		return err
	}
	if err := readFloat(settings, &exp.Rate, "rate"); err != nil {
		return err
	}
	return readInt(settings, &exp.Burst, "burst")
}

func buildBrowserConfig(b *BrowserConfig, settings map[string]interface{}) error {
	if err := readString(settings, &b.RemoteURL, "remote_url", "remoteurl", "remote-url"); err != nil {
		return err
	}
	if err := readBool(settings, &b.Headful, "headful"); err != nil {
		return err
	}
	if err := readBool(settings, &b.Stealth, "stealth"); err != nil {
		return err
	}
	if err := readDuration(settings, &b.NavigateTimeout, "navigate_timeout", "navigatetimeout", "navigate-timeout"); err != nil {
		return err
	}
	return readDuration(settings, &b.FrameFlush, "frame_flush", "frameflush", "frame-flush")
}

func buildTracingConfig(t *TracingConfig, settings map[string]interface{}) error {
	if err := readString(settings, &t.Endpoint, "endpoint"); err != nil {
		return err
	}
	if err := readString(settings, &t.Protocol, "protocol"); err != nil {
		return err
	}
	if err := readString(settings, &t.ServiceName, "service_name", "servicename", "service-name"); err != nil {
		return err
	}
	if err := readFloat(settings, &t.SampleRate, "sample_rate", "samplerate", "sample-rate"); err != nil {
		return err
	}
	if err := readBool(settings, &t.Insecure, "insecure"); err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &val
	}
	return nil
}

func buildReceiverConfig(r *ReceiverConfig, settings map[string]interface{}) error {
	if err := readString(settings, &r.Addr, "addr"); err != nil {
		return err
	}
	return readInt(settings, &r.MaxPayloads, "max_payloads", "maxpayloads", "max-payloads")
}

func readString(settings map[string]interface{}, dst *string, keys ...string) error {
	raw, ok := lookupSetting(settings, keys...)
	if !ok {
		return nil
	}
	val, err := asString(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*dst = strings.TrimSpace(val)
	return nil
}

func readBool(settings map[string]interface{}, dst *bool, keys ...string) error {
	raw, ok := lookupSetting(settings, keys...)
	if !ok {
		return nil
	}
	val, err := asBool(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*dst = val
	return nil
}

func readInt(settings map[string]interface{}, dst *int, keys ...string) error {
	raw, ok := lookupSetting(settings, keys...)
	if !ok {
		return nil
	}
	val, err := asInt(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*dst = val
	return nil
}

func readFloat(settings map[string]interface{}, dst *float64, keys ...string) error {
	raw, ok := lookupSetting(settings, keys...)
	if !ok {
		return nil
	}
	val, err := asFloat64(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*dst = val
	return nil
}

func readDuration(settings map[string]interface{}, dst *time.Duration, keys ...string) error {
	raw, ok := lookupSetting(settings, keys...)
	if !ok {
		return nil
	}
	val, err := asDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", keys[0], err)
	}
	*dst = val
	return nil
}
