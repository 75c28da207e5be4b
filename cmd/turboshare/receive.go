package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sheerbytes/turboshare/internal/config"
	"github.com/spf13/cobra"
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Wait for peers and save the files they share",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReceive(cmd.Context(), clientCfg, cmd.OutOrStdout(), clientLogger())
	},
}

func runReceive(ctx context.Context, cfg config.ClientConfig, out io.Writer, logger *slog.Logger) error {
	s, stop, err := startSession(ctx, cfg, out, logger)
	if err != nil {
		return err
	}
	defer stop()

	fmt.Fprintf(out, "Your ID is %s\n", s.LocalID())
	fmt.Fprintf(out, "Saving files to %s (Ctrl+C to stop)\n", cfg.OutputDir)

	select {
	case <-ctx.Done():
		return nil
	case <-s.Done():
		if ctx.Err() != nil {
			return nil
		}
		return errors.New("lost connection to the signaling server")
	}
}
