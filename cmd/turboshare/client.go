package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sheerbytes/turboshare/internal/config"
	"github.com/sheerbytes/turboshare/internal/discovery"
	"github.com/sheerbytes/turboshare/internal/logging"
	"github.com/sheerbytes/turboshare/internal/notify"
	"github.com/sheerbytes/turboshare/internal/peer"
	"github.com/sheerbytes/turboshare/internal/storage"
	"github.com/sheerbytes/turboshare/internal/termio"
	"github.com/sheerbytes/turboshare/internal/transport"
	"github.com/sheerbytes/turboshare/internal/transport/quic"
	"github.com/sheerbytes/turboshare/internal/transport/webrtc"
	"github.com/spf13/cobra"
)

var clientCfg = config.LoadClientConfig()

func init() {
	for _, cmd := range []*cobra.Command{idCmd, receiveCmd, shareCmd, peersCmd} {
		clientCfg.BindFlags(cmd.Flags())
	}
}

func clientLogger() *slog.Logger {
	return logging.NewWithWriter(termio.Stderr(), "turboshare", clientCfg.LogLevel)
}

// newProvider builds the transport named by cfg.Transport.
var newProvider = func(cfg config.ClientConfig, logger *slog.Logger) (transport.Provider, error) {
	switch cfg.Transport {
	case "webrtc", "":
		return webrtc.New(webrtc.Config{
			ServerURL:         cfg.ServerURL,
			Key:               cfg.Key,
			PeerID:            cfg.PeerID,
			HeartbeatInterval: cfg.HeartbeatInterval,
			STUNServers:       cfg.STUNServers,
			TURNServers:       cfg.TURNServers,
			Logger:            logger,
		}), nil
	case "quic":
		return quic.New(quic.Config{
			ServerURL:         cfg.ServerURL,
			Key:               cfg.Key,
			PeerID:            cfg.PeerID,
			HeartbeatInterval: cfg.HeartbeatInterval,
			STUNServers:       cfg.STUNServers,
			Logger:            logger,
		}), nil
	}
	return nil, fmt.Errorf("unknown transport %q (want webrtc or quic)", cfg.Transport)
}

// browseServers is replaced in tests.
var browseServers = discovery.Browse

// resolveServer fills in ServerURL from mDNS when discovery is on.
func resolveServer(ctx context.Context, cfg config.ClientConfig, logger *slog.Logger) (config.ClientConfig, error) {
	if !cfg.Discover {
		return cfg, nil
	}
	servers, err := browseServers(ctx, discovery.Config{})
	if err != nil {
		return cfg, err
	}
	for _, s := range servers {
		if s.Key == "" || s.Key == cfg.Key {
			logger.Info("found signaling server", "instance", s.Instance, "url", s.URL)
			cfg.ServerURL = s.URL
			return cfg, nil
		}
	}
	return cfg, errors.New("no signaling server found on the local network")
}

// openStorage returns the received-file store and a function releasing it.
func openStorage(cfg config.ClientConfig, logger *slog.Logger) (peer.Storage, func(), error) {
	dir, err := storage.NewDir(cfg.OutputDir)
	if err != nil {
		return nil, nil, err
	}
	if cfg.LedgerPath == "" {
		return storage.NewRecording(dir, nil, logger), func() {}, nil
	}
	ledger, err := storage.OpenLedger(cfg.LedgerPath)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewRecording(dir, ledger, logger), func() { ledger.Close() }, nil
}

// startSession resolves the server, builds the transport and starts a
// session whose notifications are printed to out.
func startSession(ctx context.Context, cfg config.ClientConfig, out io.Writer, logger *slog.Logger) (*peer.Session, func(), error) {
	cfg, err := resolveServer(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := openStorage(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	s, err := peer.Start(ctx, peer.Config{
		Provider:       provider,
		Storage:        store,
		Notifier:       notify.Multi{notify.NewPrinter(out), notify.Log{Logger: logger}},
		Logger:         logger,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	stop := func() {
		s.StopSession()
		closeStore()
	}
	return s, stop, nil
}
