package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sheerbytes/turboshare/internal/peer"
	"github.com/sheerbytes/turboshare/internal/termio"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "v0.1.0"

// errReported ends a command whose failure was already shown as a
// notification.
var errReported = errors.New("already reported")

var rootCmd = &cobra.Command{
	Use:   "turboshare",
	Short: "Send files directly between two peers",
	Long: `turboshare sends a file straight to another peer. A small signaling
server hands out peer ids and relays connection setup; the file itself
travels over a direct WebRTC data channel or QUIC stream.

Start a server with "turboshare serve", then run "turboshare receive" on
one machine and "turboshare share <peer-id> <file>" on the other.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(idCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil && !errors.Is(err, errReported) {
		if msg := peer.UserMessage(err); msg != "" {
			fmt.Fprintln(termio.Stderr(), msg)
		}
	}
	termio.Flush()
	if err != nil {
		os.Exit(1)
	}
}
