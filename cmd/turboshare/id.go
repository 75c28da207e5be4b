package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sheerbytes/turboshare/internal/config"
	"github.com/spf13/cobra"
)

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Register with the signaling server and print the peer id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runID(cmd.Context(), clientCfg, cmd.OutOrStdout(), clientLogger())
	},
}

func runID(ctx context.Context, cfg config.ClientConfig, out io.Writer, logger *slog.Logger) error {
	s, stop, err := startSession(ctx, cfg, out, logger)
	if err != nil {
		return err
	}
	defer stop()
	fmt.Fprintf(out, "Your ID is %s\n", s.LocalID())
	return nil
}
