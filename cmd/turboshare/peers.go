package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sheerbytes/turboshare/internal/clienthttp"
	"github.com/sheerbytes/turboshare/internal/config"
	"github.com/spf13/cobra"
)

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List peer ids connected to the server",
	Long:  "List peer ids connected to the server. The server must run with --allow-discovery.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPeers(cmd.Context(), clientCfg, cmd.OutOrStdout(), clientLogger())
	},
}

func runPeers(ctx context.Context, cfg config.ClientConfig, out io.Writer, logger *slog.Logger) error {
	cfg, err := resolveServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	ids, err := clienthttp.ListPeers(ctx, cfg.ServerURL, cfg.Key)
	if err != nil {
		return fmt.Errorf("list peers: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No peers connected")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}
