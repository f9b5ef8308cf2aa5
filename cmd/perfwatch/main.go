// Command perfwatch monitors page sessions, replays scripted ones, and
// receives exported performance payloads.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/torosent/perfwatch/internal/config"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "perfwatch",
		Short: "perfwatch collects web performance telemetry",
		Long: "perfwatch observes a page session, derives web vitals, navigation timing,\n" +
			"resource, long task, memory and frame rate metrics, and exports them to a\n" +
			"collection endpoint.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetVersionTemplate(fmt.Sprintf("perfwatch version {{.Version}}\ncommit: %s\nbuilt: %s\n", commit, date))

	root.AddCommand(newRunCmd(), newReplayCmd(), newReceiveCmd())
	return root
}

// loadConfig reads the flags of cmd, and the config file they name, and
// validates the result for the subcommand.
func loadConfig(cmd *cobra.Command, name config.Command) (*config.Config, error) {
	cfg, err := config.NewLoader().FromFlags(cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
