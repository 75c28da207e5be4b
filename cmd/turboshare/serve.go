package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/sheerbytes/turboshare/internal/config"
	"github.com/sheerbytes/turboshare/internal/discovery"
	"github.com/sheerbytes/turboshare/internal/logging"
	"github.com/sheerbytes/turboshare/internal/signaling"
	"github.com/sheerbytes/turboshare/internal/termio"
	"github.com/spf13/cobra"
)

var serverCfg = config.LoadServerConfig()

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.NewWithWriter(termio.Stderr(), "turboshare-server", serverCfg.LogLevel)
		return runServe(cmd.Context(), serverCfg, logger)
	},
}

func init() {
	serverCfg.BindFlags(serveCmd.Flags())
}

func runServe(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	server := signaling.New(signaling.ConfigFrom(cfg, logger))

	if cfg.Advertise {
		port, err := listenPort(cfg.Addr)
		if err != nil {
			return err
		}
		instance, _ := os.Hostname()
		if instance == "" {
			instance = "turboshare"
		}
		ad, err := discovery.Advertise(ctx, discovery.Config{Instance: instance, Port: port, Key: cfg.Key})
		if err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer ad.Stop()
			logger.Info("advertising on the local network", "instance", instance, "port", port)
		}
	}

	return server.ListenAndServe(ctx, cfg.Addr)
}

func listenPort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("advertising needs a fixed port, got %q", addr)
	}
	return port, nil
}
