package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/torosent/perfwatch/internal/config"
	"github.com/torosent/perfwatch/internal/receiver"
	"github.com/torosent/perfwatch/internal/tracing"
)

func newReceiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Run a collection endpoint for exported payloads",
		Long: "Listen on --addr for payloads posted to /collect or sent over the /collect/ws\n" +
			"websocket. Received payloads are printed and kept in memory under /payloads.",
		Args: cobra.NoArgs,
		RunE: receivePayloads,
	}
	config.RegisterFlags(cmd)
	return cmd
}

func receivePayloads(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, config.CommandReceive)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := setupLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.Process{Command: "receive", Version: version})
	if err != nil {
		return err
	}
	defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	enc := json.NewEncoder(out)

	rc := receiver.New(receiver.Options{
		MaxPayloads: cfg.Receiver.MaxPayloads,
		Logger:      logger,
		Tracer:      tp.Tracer(),
		OnPayload: func(r receiver.Record) {
			mu.Lock()
			defer mu.Unlock()
			if cfg.JSONOutput {
				_ = enc.Encode(r)
				return
			}
			fmt.Fprintf(out, "%s session=%s mode=%s transport=%s bytes=%d\n",
				r.ReceivedAt.Format("15:04:05.000"), r.SessionID, r.Mode, r.Transport, len(r.Payload))
		},
	})
	return rc.Serve(ctx, cfg.Receiver.Addr)
}
