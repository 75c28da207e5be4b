package signalclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sheerbytes/turboshare/internal/clienthttp"
	"github.com/sheerbytes/turboshare/internal/wsclient"
	"github.com/sheerbytes/turboshare/pkg/protocol"
)

var (
	// ErrIDTaken is returned by Open when the requested id belongs to another client.
	ErrIDTaken = errors.New("id is taken")
	// ErrInvalidKey is returned by Open when the server rejects the realm key.
	ErrInvalidKey = errors.New("invalid key")
	// ErrClosed is returned when the signaling connection is gone.
	ErrClosed = errors.New("signaling connection closed")
)

// ServerError is an error envelope sent by the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

// Config holds signaling client settings.
type Config struct {
	ServerURL         string
	Key               string
	PeerID            string // requested id; empty asks the server for one
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
}

const subscriptionBuffer = 128

type subscription struct {
	remoteID string
	ch       chan protocol.Envelope
}

// Client is one registration with the signaling server. It routes relayed
// envelopes to per-connection subscribers and surfaces new offers.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *wsclient.Conn
	id   string
	subs map[string]subscription

	offers chan protocol.Envelope
	errs   chan error

	openOnce  sync.Once
	opened    chan error
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client. Call Open to register.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]subscription),
		offers: make(chan protocol.Envelope, 16),
		errs:   make(chan error, 16),
		opened: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Open registers with the server and blocks until it confirms the id, rejects
// it, or ctx is done. A client can be opened once.
func (c *Client) Open(ctx context.Context) (string, error) {
	id := c.cfg.PeerID
	if id == "" {
		fetched, err := clienthttp.FetchID(ctx, c.cfg.ServerURL, c.cfg.Key)
		if err != nil {
			return "", fmt.Errorf("allocate id: %w", err)
		}
		id = fetched
	}

	wsURL, err := clienthttp.SocketURL(c.cfg.ServerURL, c.cfg.Key, id, uuid.NewString())
	if err != nil {
		return "", err
	}
	conn, err := wsclient.Dial(ctx, wsURL, c.logger)
	if err != nil {
		return "", fmt.Errorf("connect to signaling server: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.id = id
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		err := conn.ReadLoop(loopCtx, c.dispatch)
		c.signalOpen(ErrClosed)
		if loopCtx.Err() == nil {
			c.logger.Warn("signaling connection lost", "error", err)
		}
	}()
	go conn.Heartbeat(loopCtx, c.cfg.HeartbeatInterval)

	select {
	case err := <-c.opened:
		if err != nil {
			c.Close()
			return "", err
		}
		c.logger.Info("peer id ready", "peer_id", id)
		return id, nil
	case <-ctx.Done():
		c.Close()
		return "", ctx.Err()
	}
}

func (c *Client) signalOpen(err error) {
	c.openOnce.Do(func() { c.opened <- err })
}

func (c *Client) dispatch(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeOpen:
		c.signalOpen(nil)
	case protocol.TypeIDTaken:
		c.signalOpen(ErrIDTaken)
	case protocol.TypeInvalidKey:
		c.signalOpen(ErrInvalidKey)
	case protocol.TypeError:
		var perr protocol.Error
		_ = env.DecodePayload(&perr)
		serr := &ServerError{Code: perr.Code, Message: perr.Message}
		c.signalOpen(serr)
		select {
		case c.errs <- serr:
		default:
		}
	case protocol.TypeOffer:
		var ref protocol.ConnectionRef
		if err := env.DecodePayload(&ref); err != nil {
			c.logger.Warn("invalid offer", "error", err, "from", env.From)
			return
		}
		if c.deliver(ref.ConnectionID, env) {
			return
		}
		// Candidates trail the offer; hold them until the offer is taken.
		c.mu.Lock()
		c.subs[ref.ConnectionID] = subscription{remoteID: env.From, ch: make(chan protocol.Envelope, subscriptionBuffer)}
		c.mu.Unlock()
		select {
		case c.offers <- env:
		default:
			c.mu.Lock()
			delete(c.subs, ref.ConnectionID)
			c.mu.Unlock()
			c.logger.Warn("offer queue full, dropping offer", "from", env.From)
		}
	case protocol.TypeAnswer, protocol.TypeCandidate, protocol.TypeExpire:
		var ref protocol.ConnectionRef
		_ = env.DecodePayload(&ref)
		if !c.deliver(ref.ConnectionID, env) {
			c.logger.Debug("no subscriber for message", "type", env.Type, "connection_id", ref.ConnectionID)
		}
	case protocol.TypeLeave:
		var ref protocol.ConnectionRef
		if len(env.Payload) > 0 {
			_ = env.DecodePayload(&ref)
		}
		if ref.ConnectionID != "" {
			c.deliver(ref.ConnectionID, env)
			return
		}
		c.deliverToRemote(env.From, env)
	default:
		c.logger.Debug("ignoring signaling message", "type", env.Type)
	}
}

func (c *Client) deliver(connectionID string, env protocol.Envelope) bool {
	c.mu.Lock()
	sub, ok := c.subs[connectionID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case sub.ch <- env:
	default:
		c.logger.Warn("subscriber queue full, dropping message", "type", env.Type, "connection_id", connectionID)
	}
	return true
}

func (c *Client) deliverToRemote(remoteID string, env protocol.Envelope) {
	c.mu.Lock()
	var targets []chan protocol.Envelope
	for _, sub := range c.subs {
		if sub.remoteID == remoteID {
			targets = append(targets, sub.ch)
		}
	}
	c.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- env:
		default:
		}
	}
}

// ID returns the registered id, or "" before Open succeeds.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Subscribe routes answer, candidate, leave, expire and renegotiation offers
// for connectionID to the returned channel. For a connection started by a
// received offer, messages that arrived since the offer are already queued.
// The channel is never closed; watch Done for loss of signaling.
func (c *Client) Subscribe(connectionID, remoteID string) (<-chan protocol.Envelope, func()) {
	c.mu.Lock()
	sub, ok := c.subs[connectionID]
	if !ok || sub.remoteID != remoteID {
		sub = subscription{remoteID: remoteID, ch: make(chan protocol.Envelope, subscriptionBuffer)}
		c.subs[connectionID] = sub
	}
	ch := sub.ch
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		if sub, ok := c.subs[connectionID]; ok && sub.ch == ch {
			delete(c.subs, connectionID)
		}
		c.mu.Unlock()
	}
}

// Offers delivers offers that start new connections.
func (c *Client) Offers() <-chan protocol.Envelope {
	return c.offers
}

// Errors delivers error envelopes received after Open.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Done is closed when the signaling connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send relays payload to peer to.
func (c *Client) Send(msgType, to string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	id := c.id
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	env, err := protocol.Directed(msgType, id, to, payload)
	if err != nil {
		return err
	}
	env.SessionID = c.cfg.Key
	if err := conn.Send(env); err != nil {
		return ErrClosed
	}
	return nil
}

// Close unregisters from the server. Queued envelopes are flushed first.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		cancel := c.cancel
		c.mu.Unlock()
		if conn == nil {
			return
		}
		err = conn.Close()
		cancel()
		<-c.done
	})
	return err
}
