package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sheerbytes/turboshare/internal/config"
	"github.com/sheerbytes/turboshare/internal/mailbox"
	"github.com/sheerbytes/turboshare/internal/peers"
	"github.com/sheerbytes/turboshare/pkg/protocol"
)

// Config holds signaling server settings.
type Config struct {
	Key             string
	AliveTimeout    time.Duration
	ExpireTimeout   time.Duration
	CleanupInterval time.Duration
	AllowDiscovery  bool
	MaxMessageBytes int
	ConcurrentLimit int
	Logger          *slog.Logger
}

// ConfigFrom converts the server's command-line configuration.
func ConfigFrom(cfg config.ServerConfig, logger *slog.Logger) Config {
	return Config{
		Key:             cfg.Key,
		AliveTimeout:    cfg.AliveTimeout,
		ExpireTimeout:   cfg.ExpireTimeout,
		CleanupInterval: cfg.CleanupInterval,
		AllowDiscovery:  cfg.AllowDiscovery,
		MaxMessageBytes: cfg.MaxMessageBytes,
		ConcurrentLimit: cfg.ConcurrentLimit,
		Logger:          logger,
	}
}

// Server allocates peer ids and relays connection negotiation between them.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	hub      *peers.Hub
	mailbox  *mailbox.Store
	upgrader websocket.Upgrader
	now      func() time.Time
}

// New creates a server. Zero durations fall back to the config package defaults.
func New(cfg Config) *Server {
	defaults := config.DefaultServerConfig()
	if cfg.Key == "" {
		cfg.Key = defaults.Key
	}
	if cfg.ExpireTimeout <= 0 {
		cfg.ExpireTimeout = defaults.ExpireTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaults.MaxMessageBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		hub:     peers.NewHub(cfg.ConcurrentLimit),
		mailbox: mailbox.NewStore(cfg.ExpireTimeout),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // browsers on any origin may signal
			},
		},
		now: time.Now,
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
	mux.HandleFunc("GET /{key}/id", s.handleID)
	mux.HandleFunc("GET /{key}/peers", s.handlePeers)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Run sweeps expired mailbox messages and idle clients until ctx is done.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("signaling server listening", "addr", addr, "key", s.cfg.Key)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	wg.Wait()
	return err
}

func (s *Server) sweep() {
	now := s.now()

	type route struct{ from, to, conn string }
	seen := make(map[route]bool)
	for _, m := range s.mailbox.CleanupExpired(now) {
		var ref protocol.ConnectionRef
		_ = m.Env.DecodePayload(&ref)
		r := route{from: m.Env.From, to: m.Env.To, conn: ref.ConnectionID}
		if seen[r] {
			continue
		}
		seen[r] = true
		// The rest of the negotiation is useless once the offer is gone.
		s.mailbox.DropRoute(m.Key, m.Env.From, m.Env.To)

		expire, err := protocol.Directed(protocol.TypeExpire, m.Env.To, m.Env.From, protocol.Expire{
			PeerID:       m.Env.To,
			ConnectionID: ref.ConnectionID,
		})
		if err != nil {
			continue
		}
		expire.SessionID = m.Key
		s.hub.SendTo(m.Key, m.Env.From, expire)
		s.logger.Debug("relayed message expired", "from", m.Env.From, "to", m.Env.To, "type", m.Env.Type)
	}

	if n := s.hub.CloseIdle(s.cfg.AliveTimeout); n > 0 {
		s.logger.Info("closed idle clients", "count", n)
	}
}

func (s *Server) handleID(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("key") != s.cfg.Key {
		http.NotFound(w, r)
		return
	}
	id := uuid.NewString()
	for s.hub.Has(s.cfg.Key, id) {
		id = uuid.NewString()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(id))
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("key") != s.cfg.Key {
		http.NotFound(w, r)
		return
	}
	if !s.cfg.AllowDiscovery {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "peer discovery is disabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.hub.IDs(s.cfg.Key))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	id := q.Get("id")
	token := q.Get("token")

	if id == "" || token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id or token"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(int64(s.cfg.MaxMessageBytes))

	var writeMu sync.Mutex
	sendFunc := func(env protocol.Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(env)
	}
	reject := func(msgType, code, message string) {
		var payload any
		if code != "" {
			payload = protocol.Error{Code: code, Message: message}
		}
		env, err := protocol.Directed(msgType, protocol.ServerID, id, payload)
		if err == nil {
			_ = sendFunc(env)
		}
	}

	if key != s.cfg.Key {
		reject(protocol.TypeInvalidKey, "", "")
		s.logger.Warn("invalid key", "peer_id", id)
		return
	}

	connID := protocol.NewMsgID()
	remove, err := s.hub.Add(key, peers.Client{ID: id, Token: token, ConnID: connID}, sendFunc, func() { _ = conn.Close() })
	switch {
	case errors.Is(err, peers.ErrIDTaken):
		reject(protocol.TypeIDTaken, "", "")
		s.logger.Info("id taken", "peer_id", id)
		return
	case errors.Is(err, peers.ErrLimitReached):
		reject(protocol.TypeError, protocol.CodeConcurrentLimit, "Server has reached its concurrent user limit")
		return
	case err != nil:
		s.logger.Error("register client failed", "error", err, "peer_id", id)
		return
	}
	defer remove()

	conn.SetPongHandler(func(string) error {
		s.hub.Touch(key, id)
		return nil
	})

	openEnv, err := protocol.Directed(protocol.TypeOpen, protocol.ServerID, id, protocol.Open{PeerID: id})
	if err != nil {
		return
	}
	openEnv.SessionID = key
	s.hub.SendTo(key, id, openEnv)
	for _, queued := range s.mailbox.Drain(key, id) {
		s.hub.SendTo(key, id, queued)
	}
	s.logger.Info("peer connected", "peer_id", id, "conn_id", connID)
	defer s.logger.Info("peer disconnected", "peer_id", id, "conn_id", connID)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.logger.Info("websocket idle timeout", "peer_id", id)
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", "error", err, "peer_id", id)
			}
			return
		}
		s.hub.Touch(key, id)

		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.logger.Warn("invalid JSON envelope", "error", err, "peer_id", id)
			continue
		}
		if err := env.ValidateBasic(); err != nil {
			s.logger.Warn("invalid envelope", "error", err, "peer_id", id)
			continue
		}

		s.handleEnvelope(key, id, env)
	}
}

func (s *Server) handleEnvelope(key, from string, env protocol.Envelope) {
	if env.Type == protocol.TypeHeartbeat {
		return
	}
	if !env.IsRelayed() || env.To == "" {
		errEnv, err := protocol.Directed(protocol.TypeError, protocol.ServerID, from, protocol.Error{
			Code:    protocol.CodeInvalidMessage,
			Message: "unsupported message type: " + env.Type,
		})
		if err == nil {
			s.hub.SendTo(key, from, errEnv)
		}
		return
	}

	// Never trust the client's claimed origin.
	env.From = from
	env.SessionID = key

	if s.hub.SendTo(key, env.To, env) {
		return
	}
	if env.Type == protocol.TypeLeave || env.Type == protocol.TypeExpire {
		return
	}
	if !s.mailbox.Put(key, env, s.now()) {
		s.logger.Warn("mailbox full, dropping message", "from", from, "to", env.To)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
