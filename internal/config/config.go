package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

const envPrefix = "TURBOSHARE_"

// DefaultKey is the realm key used when none is configured.
const DefaultKey = "turboshare"

// DefaultSTUNServers are used by both transports when none are configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// ServerConfig holds configuration for the signaling server.
type ServerConfig struct {
	Addr            string
	LogLevel        string
	Key             string
	AliveTimeout    time.Duration // drop clients that sent nothing for this long
	ExpireTimeout   time.Duration // undelivered relayed messages expire after this
	CleanupInterval time.Duration
	AllowDiscovery  bool // serve GET /{key}/peers
	MaxMessageBytes int
	ConcurrentLimit int
	Advertise       bool // announce the server over mDNS
}

// ClientConfig holds configuration for the peer commands (id, share, receive).
type ClientConfig struct {
	ServerURL         string
	LogLevel          string
	Key               string
	PeerID            string // requested id; empty lets the server allocate one
	Transport         string // "webrtc" or "quic"
	STUNServers       []string
	TURNServers       []string
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	OutputDir         string
	LedgerPath        string // empty disables the received-files ledger
	Discover          bool   // find the server over mDNS instead of ServerURL
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":9000",
		LogLevel:        "info",
		Key:             DefaultKey,
		AliveTimeout:    60 * time.Second,
		ExpireTimeout:   5 * time.Second,
		CleanupInterval: time.Second,
		MaxMessageBytes: 64 * 1024,
		ConcurrentLimit: 5000,
	}
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:         "http://localhost:9000",
		LogLevel:          "info",
		Key:               DefaultKey,
		Transport:         "webrtc",
		STUNServers:       append([]string(nil), DefaultSTUNServers...),
		ConnectTimeout:    30 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		OutputDir:         ".",
		LedgerPath:        "turboshare.db",
	}
}

// LoadServerConfig returns defaults overridden by TURBOSHARE_* environment variables.
// Call BindFlags afterwards so flags take precedence.
func LoadServerConfig() ServerConfig {
	cfg := DefaultServerConfig()
	envString("ADDR", &cfg.Addr)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("KEY", &cfg.Key)
	envDuration("ALIVE_TIMEOUT", &cfg.AliveTimeout)
	envDuration("EXPIRE_TIMEOUT", &cfg.ExpireTimeout)
	envDuration("CLEANUP_INTERVAL", &cfg.CleanupInterval)
	envBool("ALLOW_DISCOVERY", &cfg.AllowDiscovery)
	envInt("MAX_MESSAGE_BYTES", &cfg.MaxMessageBytes)
	envInt("CONCURRENT_LIMIT", &cfg.ConcurrentLimit)
	envBool("ADVERTISE", &cfg.Advertise)
	return cfg
}

// BindFlags registers server flags on fs, using the current values as defaults.
func (c *ServerConfig) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.Key, "key", c.Key, "realm key clients must present")
	fs.DurationVar(&c.AliveTimeout, "alive-timeout", c.AliveTimeout, "disconnect clients silent for this long")
	fs.DurationVar(&c.ExpireTimeout, "expire-timeout", c.ExpireTimeout, "expire undelivered messages after this long")
	fs.DurationVar(&c.CleanupInterval, "cleanup-interval", c.CleanupInterval, "how often expired messages and dead clients are swept")
	fs.BoolVar(&c.AllowDiscovery, "allow-discovery", c.AllowDiscovery, "serve the list of connected peer ids")
	fs.IntVar(&c.MaxMessageBytes, "max-message-bytes", c.MaxMessageBytes, "max websocket message size")
	fs.IntVar(&c.ConcurrentLimit, "concurrent-limit", c.ConcurrentLimit, "max connected clients")
	fs.BoolVar(&c.Advertise, "advertise", c.Advertise, "advertise the server on the local network (mDNS)")
}

// LoadClientConfig returns defaults overridden by TURBOSHARE_* environment variables.
func LoadClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	envString("SERVER_URL", &cfg.ServerURL)
	envString("LOG_LEVEL", &cfg.LogLevel)
	envString("KEY", &cfg.Key)
	envString("PEER_ID", &cfg.PeerID)
	envString("TRANSPORT", &cfg.Transport)
	envList("STUN_SERVERS", &cfg.STUNServers)
	envList("TURN_SERVERS", &cfg.TURNServers)
	envDuration("CONNECT_TIMEOUT", &cfg.ConnectTimeout)
	envDuration("HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	envString("OUTPUT_DIR", &cfg.OutputDir)
	envString("LEDGER_PATH", &cfg.LedgerPath)
	envBool("DISCOVER", &cfg.Discover)
	return cfg
}

// BindFlags registers client flags on fs, using the current values as defaults.
func (c *ClientConfig) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ServerURL, "server-url", c.ServerURL, "signaling server URL")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.Key, "key", c.Key, "realm key")
	fs.StringVar(&c.PeerID, "peer-id", c.PeerID, "request a specific peer id")
	fs.StringVar(&c.Transport, "transport", c.Transport, "peer transport (webrtc, quic)")
	fs.StringSliceVar(&c.STUNServers, "stun-server", c.STUNServers, "STUN server URLs (repeatable)")
	fs.StringSliceVar(&c.TURNServers, "turn-server", c.TURNServers, "TURN server URLs with credentials (repeatable)")
	fs.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "give up on a connection that does not open (0 waits forever)")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "signaling heartbeat interval")
	fs.StringVar(&c.OutputDir, "output-dir", c.OutputDir, "directory received files are written to")
	fs.StringVar(&c.LedgerPath, "ledger", c.LedgerPath, "sqlite file recording received files (empty disables)")
	fs.BoolVar(&c.Discover, "discover", c.Discover, "locate the signaling server over mDNS")
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *pflag.FlagSet, args []string) (ServerConfig, error) {
	cfg := LoadServerConfig()
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *pflag.FlagSet, args []string) (ClientConfig, error) {
	cfg := LoadClientConfig()
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func envList(name string, dst *[]string) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
