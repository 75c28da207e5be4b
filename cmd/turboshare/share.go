package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sheerbytes/turboshare/internal/config"
	"github.com/sheerbytes/turboshare/internal/peer"
	"github.com/sheerbytes/turboshare/internal/progress"
	"github.com/sheerbytes/turboshare/internal/termio"
	"github.com/spf13/cobra"
)

var shareCmd = &cobra.Command{
	Use:   "share <peer-id> <file>",
	Short: "Send a file to a peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShare(cmd.Context(), clientCfg, cmd.OutOrStdout(), clientLogger(), args[0], args[1])
	},
}

// barOutput is where the progress bar is drawn.
var barOutput io.Writer = termio.Stderr()

func runShare(ctx context.Context, cfg config.ClientConfig, out io.Writer, logger *slog.Logger, remoteID, path string) error {
	file, err := peer.LoadFile(path)
	if err != nil {
		return err
	}

	s, stop, err := startSession(ctx, cfg, out, logger)
	if err != nil {
		return err
	}
	defer stop()
	s.Select(file)

	conn, err := s.ConnectTo(remoteID)
	if err != nil {
		return err
	}
	if err := conn.WaitOpen(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// The session already announced the failure.
		return errReported
	}

	if err := s.Send(nil); err != nil {
		return err
	}

	total := int64(len(file.Data))
	if buffered := int64(conn.BufferedAmount()); buffered > total {
		total = buffered
	}
	bar := progress.NewBar(barOutput, total, file.Name)
	stats, err := progress.WatchDrain(ctx, conn, total, bar)
	if err != nil {
		logger.Warn("transfer interrupted", "name", file.Name,
			"sent", progress.FormatBytes(stats.BytesDone),
			"percent", fmt.Sprintf("%.1f", stats.Percent),
			"eta", progress.FormatETA(stats.ETA), "error", err)
		return err
	}
	logger.Info("transfer drained", "name", file.Name, "bytes", total,
		"elapsed", progress.FormatETA(stats.Elapsed), "rate", progress.FormatRate(stats.RateBps))
	fmt.Fprintf(out, "Sent %s (%s) to %s\n", file.Name, progress.FormatBytes(int64(len(file.Data))), remoteID)
	return nil
}
