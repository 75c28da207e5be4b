package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestParseServerConfig_Defaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := parseServerConfigWithFlagSet(fs, []string{})
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}

	if cfg.Addr != ":9000" {
		t.Errorf("expected Addr to be :9000, got %s", cfg.Addr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel to be info, got %s", cfg.LogLevel)
	}
	if cfg.Key != DefaultKey {
		t.Errorf("expected Key to be %s, got %s", DefaultKey, cfg.Key)
	}
	if cfg.ExpireTimeout != 5*time.Second {
		t.Errorf("expected ExpireTimeout to be 5s, got %s", cfg.ExpireTimeout)
	}
	if cfg.AllowDiscovery {
		t.Error("expected AllowDiscovery to default to false")
	}
}

func TestParseServerConfig_Flags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := parseServerConfigWithFlagSet(fs, []string{
		"--addr", ":9090",
		"--log-level", "debug",
		"--alive-timeout", "2m",
		"--allow-discovery",
	})
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("expected Addr to be :9090, got %s", cfg.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel to be debug, got %s", cfg.LogLevel)
	}
	if cfg.AliveTimeout != 2*time.Minute {
		t.Errorf("expected AliveTimeout to be 2m, got %s", cfg.AliveTimeout)
	}
	if !cfg.AllowDiscovery {
		t.Error("expected AllowDiscovery to be true")
	}
}

func TestParseServerConfig_EnvFallback(t *testing.T) {
	t.Setenv("TURBOSHARE_ADDR", ":7070")
	t.Setenv("TURBOSHARE_LOG_LEVEL", "warn")
	t.Setenv("TURBOSHARE_EXPIRE_TIMEOUT", "10s")
	t.Setenv("TURBOSHARE_CONCURRENT_LIMIT", "12")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := parseServerConfigWithFlagSet(fs, []string{})
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}

	if cfg.Addr != ":7070" {
		t.Errorf("expected Addr to be :7070, got %s", cfg.Addr)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected LogLevel to be warn, got %s", cfg.LogLevel)
	}
	if cfg.ExpireTimeout != 10*time.Second {
		t.Errorf("expected ExpireTimeout to be 10s, got %s", cfg.ExpireTimeout)
	}
	if cfg.ConcurrentLimit != 12 {
		t.Errorf("expected ConcurrentLimit to be 12, got %d", cfg.ConcurrentLimit)
	}
}

func TestParseServerConfig_InvalidEnvIgnored(t *testing.T) {
	t.Setenv("TURBOSHARE_EXPIRE_TIMEOUT", "soon")
	t.Setenv("TURBOSHARE_CONCURRENT_LIMIT", "many")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := parseServerConfigWithFlagSet(fs, []string{})
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}
	if cfg.ExpireTimeout != 5*time.Second {
		t.Errorf("expected default ExpireTimeout, got %s", cfg.ExpireTimeout)
	}
	if cfg.ConcurrentLimit != 5000 {
		t.Errorf("expected default ConcurrentLimit, got %d", cfg.ConcurrentLimit)
	}
}

func TestParseServerConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("TURBOSHARE_ADDR", ":7070")
	t.Setenv("TURBOSHARE_LOG_LEVEL", "warn")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := parseServerConfigWithFlagSet(fs, []string{"--addr", ":9090", "--log-level", "error"})
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}

	// Flags should override env
	if cfg.Addr != ":9090" {
		t.Errorf("expected Addr to be :9090 (from flag), got %s", cfg.Addr)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("expected LogLevel to be error (from flag), got %s", cfg.LogLevel)
	}
}

func TestParseClientConfig_Defaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := parseClientConfigWithFlagSet(fs, []string{})
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}

	if cfg.ServerURL != "http://localhost:9000" {
		t.Errorf("expected ServerURL to be http://localhost:9000, got %s", cfg.ServerURL)
	}
	if cfg.PeerID != "" {
		t.Errorf("expected PeerID to be empty, got %s", cfg.PeerID)
	}
	if cfg.Transport != "webrtc" {
		t.Errorf("expected Transport to be webrtc, got %s", cfg.Transport)
	}
	if len(cfg.STUNServers) != len(DefaultSTUNServers) {
		t.Errorf("expected %d STUN servers, got %v", len(DefaultSTUNServers), cfg.STUNServers)
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("expected ConnectTimeout to be 30s, got %s", cfg.ConnectTimeout)
	}
}

func TestParseClientConfig_EnvAndFlags(t *testing.T) {
	t.Setenv("TURBOSHARE_SERVER_URL", "http://signal.example:9000")
	t.Setenv("TURBOSHARE_STUN_SERVERS", "stun:a.example:3478, stun:b.example:3478")
	t.Setenv("TURBOSHARE_TRANSPORT", "quic")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg, err := parseClientConfigWithFlagSet(fs, []string{
		"--peer-id", "alice",
		"--turn-server", "turn:user:pass@turn.example:3478",
		"--output-dir", "/tmp/in",
	})
	if err != nil {
		t.Fatalf("parse error = %v", err)
	}

	if cfg.ServerURL != "http://signal.example:9000" {
		t.Errorf("expected ServerURL from env, got %s", cfg.ServerURL)
	}
	if len(cfg.STUNServers) != 2 || cfg.STUNServers[1] != "stun:b.example:3478" {
		t.Errorf("expected two STUN servers from env, got %v", cfg.STUNServers)
	}
	if cfg.Transport != "quic" {
		t.Errorf("expected Transport quic, got %s", cfg.Transport)
	}
	if cfg.PeerID != "alice" {
		t.Errorf("expected PeerID alice, got %s", cfg.PeerID)
	}
	if len(cfg.TURNServers) != 1 {
		t.Errorf("expected one TURN server, got %v", cfg.TURNServers)
	}
	if cfg.OutputDir != "/tmp/in" {
		t.Errorf("expected OutputDir /tmp/in, got %s", cfg.OutputDir)
	}
}

func TestParseClientConfig_UnknownFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetOutput(discard{})
	if _, err := parseClientConfigWithFlagSet(fs, []string{"--bogus"}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
