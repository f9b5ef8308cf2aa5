package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/torosent/perfwatch/internal/config"
	"github.com/torosent/perfwatch/internal/dashboard"
	"github.com/torosent/perfwatch/internal/monitor"
	"github.com/torosent/perfwatch/internal/source/replay"
	"github.com/torosent/perfwatch/internal/threshold"
	"github.com/torosent/perfwatch/internal/tracing"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Play a scripted session",
		Long: "Play the --scenario file on a simulated timeline, then export and report.\n" +
			"With --speed 0 the session runs as fast as possible; 1 plays it in real time.",
		Args: cobra.NoArgs,
		RunE: replaySession,
	}
	config.RegisterFlags(cmd)
	return cmd
}

func replaySession(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, config.CommandReplay)
	if err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}
	scenario, err := replay.Load(cfg.Scenario)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := setupLogger(cmd.ErrOrStderr(), cfg.LogLevel).With("scenario", scenario.Name)

	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.Process{Command: "replay", Host: "replay", Version: version})
	if err != nil {
		return err
	}
	defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

	url := scenario.URL
	if cfg.URL != "" {
		url = cfg.URL
	}

	host := replay.NewHost(scenario)
	host.Speed = cfg.Speed

	playCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := append(monitorOptions(cfg, logger, tp), monitor.WithPage(url, scenario.UserAgent))
	m := monitor.New(playCtx, host, opts...)

	v, err := startViews(cfg, m, dashboard.SessionConfig{
		URL:        url,
		SessionID:  m.SessionID(),
		Host:       "replay",
		Duration:   time.Duration(scenario.Duration * float64(time.Millisecond)),
		SampleRate: cfg.SampleRate,
		ReportURL:  cfg.ReportURL,
		AutoSend:   cfg.AutoSend,
		ConfigFile: cfg.ConfigFile,
	}, cmd.OutOrStdout(), cancel)
	if err != nil {
		closeMonitor(ctx, m, logger)
		return err
	}

	playErr := host.Play(playCtx)
	v.stop()
	closeMonitor(ctx, m, logger)
	if playErr != nil && !errors.Is(playErr, context.Canceled) {
		return playErr
	}

	elapsed := time.Duration(host.Now() * float64(time.Millisecond))
	return finish(cmd.OutOrStdout(), cfg, m, thresholds, url, elapsed)
}
