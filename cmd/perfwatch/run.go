package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/perfwatch/internal/config"
	"github.com/torosent/perfwatch/internal/dashboard"
	"github.com/torosent/perfwatch/internal/monitor"
	"github.com/torosent/perfwatch/internal/source"
	"github.com/torosent/perfwatch/internal/source/cdp"
	"github.com/torosent/perfwatch/internal/threshold"
	"github.com/torosent/perfwatch/internal/tracing"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Monitor a page in Chrome",
		Long: "Open --url in Chrome (launched, or attached with --remote-url), observe the\n" +
			"session for --duration or until interrupted, then tear down, export and report.",
		Args: cobra.NoArgs,
		RunE: runSession,
	}
	config.RegisterFlags(cmd)
	return cmd
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, config.CommandRun)
	if err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := setupLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.Process{Command: "run", Host: "cdp", Version: version})
	if err != nil {
		return err
	}
	defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.Duration > 0 {
		sessionCtx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	host, err := cdp.Open(ctx, cdp.Config{
		RemoteURL:       cfg.Browser.RemoteURL,
		Headful:         cfg.Browser.Headful,
		Stealth:         cfg.Browser.Stealth,
		NavigateTimeout: cfg.Browser.NavigateTimeout,
		FrameFlush:      cfg.Browser.FrameFlush,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	m, err := observePage(sessionCtx, host, cfg.URL, logger, monitorOptions(cfg, logger, tp)...)
	if err != nil {
		_ = host.Close()
		return err
	}

	v, err := startViews(cfg, m, dashboard.SessionConfig{
		URL:        cfg.URL,
		SessionID:  m.SessionID(),
		Host:       "cdp",
		Duration:   cfg.Duration,
		SampleRate: cfg.SampleRate,
		ReportURL:  cfg.ReportURL,
		AutoSend:   cfg.AutoSend,
		ConfigFile: cfg.ConfigFile,
	}, cmd.OutOrStdout(), cancel)
	if err != nil {
		_ = host.Close()
		closeMonitor(ctx, m, logger)
		return err
	}

	<-sessionCtx.Done()
	v.stop()

	// Teardown callbacks run while the page is still open.
	if err := host.Close(); err != nil {
		logger.Warn("run: close browser", "error", err)
	}
	closeMonitor(ctx, m, logger)

	return finish(cmd.OutOrStdout(), cfg, m, thresholds, cfg.URL, time.Since(start))
}

// pageHost is a host that loads the page under observation.
type pageHost interface {
	source.Host
	Navigate(ctx context.Context, url string) error
	PageInfo() (url, userAgent string, err error)
}

// observePage loads url, then starts the monitor on it. Adapters read the
// navigation timeline, the first heap sample and the frame clock when they
// start, so they must not see the blank tab the host opened with.
func observePage(ctx context.Context, host pageHost, url string, logger *slog.Logger, opts ...monitor.Option) (*monitor.Monitor, error) {
	if err := host.Navigate(ctx, url); err != nil {
		return nil, err
	}
	_, userAgent, err := host.PageInfo()
	if err != nil {
		logger.Warn("run: user agent unavailable", "error", err)
	}
	opts = append(opts, monitor.WithPage(url, userAgent))
	return monitor.New(ctx, host, opts...), nil
}

func closeMonitor(ctx context.Context, m *monitor.Monitor, logger *slog.Logger) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := m.Close(closeCtx); err != nil {
		logger.Warn("session did not shut down cleanly", "error", err)
	}
}
