// Package peer implements the peer session: the local identity, the single
// active connection to a remote peer, and file transfer over it.
//
// All state changes happen on one goroutine per Session. Public methods send
// commands to it and transport notifications arrive as events, so a
// notification for a connection that was already replaced is recognised and
// dropped.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sheerbytes/turboshare/internal/transport"
)

const notifyDuration = time.Second

// Notification is a short message for the user.
type Notification struct {
	Text     string
	Duration time.Duration
}

// Notifier shows notifications. It is called from session goroutines, must
// be safe for concurrent use and must not call back into the Session.
type Notifier interface {
	Notify(n Notification)
}

// Storage persists received files.
type Storage interface {
	Save(ctx context.Context, payload []byte, name string) error
}

// Config holds the collaborators of a Session.
type Config struct {
	Provider transport.Provider
	Storage  Storage
	Notifier Notifier
	Logger   *slog.Logger
	// ConnectTimeout closes outgoing connections that are not open in time.
	// Zero disables it.
	ConnectTimeout time.Duration
}

type connEvent struct {
	conn *Connection
	ev   transport.Event
}

// Session is one peer identity and at most one active connection.
type Session struct {
	cfg      Config
	provider transport.Provider
	logger   *slog.Logger

	mu           sync.RWMutex
	status       Status
	localID      string
	conn         *Connection
	pending      *File
	lastRemoteID string
	starting     bool
	startCancel  context.CancelFunc

	cmds     chan func()
	events   chan connEvent
	done     chan struct{}
	doneOnce sync.Once

	saveCtx context.Context
	saves   sync.WaitGroup
}

// New creates an idle session.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:      cfg,
		provider: cfg.Provider,
		logger:   logger,
		cmds:     make(chan func()),
		events:   make(chan connEvent, 64),
		done:     make(chan struct{}),
		saveCtx:  context.Background(),
	}
}

// Start creates a session and waits until its identity is ready.
func Start(ctx context.Context, cfg Config) (*Session, error) {
	s := New(cfg)
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Start allocates the local identity and blocks until the provider reports it
// ready or fails. The session stays bound to ctx: when ctx is done the
// session is stopped.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case StatusIdle:
	case StatusDestroyed:
		s.mu.Unlock()
		return ErrSessionDestroyed
	default:
		s.mu.Unlock()
		return errors.New("session already started")
	}
	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.status = StatusInitializing
	s.starting = true
	s.startCancel = cancel
	s.mu.Unlock()

	id, err := s.provider.Open(openCtx)
	if err == nil && id == "" {
		err = errors.New("provider returned an empty id")
	}

	s.mu.Lock()
	s.starting = false
	s.startCancel = nil
	stopped := s.status == StatusDestroyed
	s.mu.Unlock()
	if stopped {
		_ = s.provider.Close()
		s.finish()
		s.logger.Info("session stopped before identity was ready")
		return ErrSessionDestroyed
	}
	if err != nil {
		_ = s.provider.Close()
		s.mu.Lock()
		s.status = StatusDestroyed
		s.mu.Unlock()
		s.finish()
		s.logger.Error("peer identity failed", "error", err)
		return fmt.Errorf("%w: %w", ErrSignaling, err)
	}

	s.mu.Lock()
	s.status = StatusReady
	s.localID = id
	s.saveCtx = context.WithoutCancel(ctx)
	s.mu.Unlock()
	s.logger.Info("peer identity ready", "peer_id", id)

	go s.run(ctx)
	return nil
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) run(ctx context.Context) {
	defer s.finish()
	incoming := s.provider.Incoming()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("session context done")
			s.teardown()
			return
		case fn := <-s.cmds:
			fn()
		case ch, ok := <-incoming:
			if !ok {
				s.logger.Error("signaling lost, destroying session")
				s.teardown()
				return
			}
			s.acceptIncoming(ch)
		case e := <-s.events:
			s.handleEvent(e)
		}
		if s.Status() == StatusDestroyed {
			return
		}
	}
}

// do runs fn on the session goroutine and waits for it. It reports false if
// the session is not running.
func (s *Session) do(fn func()) bool {
	if s.Status() != StatusReady {
		return false
	}
	ran := make(chan struct{})
	select {
	case s.cmds <- func() { defer close(ran); fn() }:
		<-ran
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) notRunningErr() error {
	if s.Status() == StatusDestroyed {
		return ErrSessionDestroyed
	}
	return ErrNotReady
}

// Status returns the lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LocalID returns the local peer id. It is empty unless the session is ready.
func (s *Session) LocalID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localID
}

// Connection returns the tracked connection, or nil.
func (s *Session) Connection() *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// LastRemoteID returns the id most recently passed to ConnectTo.
func (s *Session) LastRemoteID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRemoteID
}

// Done is closed once the session is destroyed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ConnectTo opens a connection to remoteID, replacing any active one. The
// returned connection is connecting; wait on Opened or WaitOpen.
func (s *Session) ConnectTo(remoteID string) (*Connection, error) {
	var (
		conn *Connection
		err  error
	)
	if !s.do(func() { conn, err = s.connect(strings.TrimSpace(remoteID)) }) {
		return nil, s.notRunningErr()
	}
	return conn, err
}

func (s *Session) connect(remoteID string) (*Connection, error) {
	switch {
	case remoteID == "":
		return nil, ErrNoPeerTarget
	case remoteID == s.LocalID():
		return nil, ErrSelfConnectionRejected
	}

	s.mu.Lock()
	s.lastRemoteID = remoteID
	s.mu.Unlock()

	ch, err := s.provider.Connect(remoteID)
	if err != nil {
		s.logger.Warn("connect rejected", "remote_id", remoteID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrConnectionEstablishmentFailed, err)
	}
	conn := s.adopt(ch, Outgoing)
	if timeout := s.cfg.ConnectTimeout; timeout > 0 {
		conn.setTimer(time.AfterFunc(timeout, func() {
			s.do(func() { s.connectTimedOut(conn) })
		}))
	}
	s.logger.Info("connecting", "remote_id", remoteID)
	return conn, nil
}

func (s *Session) acceptIncoming(ch transport.Channel) {
	if s.Status() != StatusReady {
		_ = ch.Close()
		return
	}
	s.logger.Info("incoming connection", "remote_id", ch.RemoteID())
	s.adopt(ch, Incoming)
}

// adopt closes the active connection, if any, and tracks ch instead.
func (s *Session) adopt(ch transport.Channel, dir Direction) *Connection {
	if old := s.Connection(); old != nil {
		s.logger.Info("replacing active connection", "old_remote_id", old.remoteID, "remote_id", ch.RemoteID())
		s.closeConn(old, false)
	}
	conn := newConnection(s, ch, dir)
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	go s.forward(conn)
	return conn
}

// forward feeds channel events to the session until the channel is done.
func (s *Session) forward(c *Connection) {
	for ev := range c.ch.Events() {
		select {
		case s.events <- connEvent{conn: c, ev: ev}:
		case <-s.done:
		}
	}
}

func (s *Session) handleEvent(e connEvent) {
	c := e.conn
	current := c == s.Connection()
	switch e.ev.Kind {
	case transport.EventOpen:
		if !current || !c.markOpen() {
			s.logger.Debug("ignoring open of inactive connection", "remote_id", c.remoteID)
			return
		}
		s.logger.Info("connection open", "remote_id", c.remoteID, "direction", c.direction)
	case transport.EventData:
		if !current || c.Status() != ConnOpen {
			s.logger.Debug("ignoring data on inactive connection", "remote_id", c.remoteID)
			return
		}
		s.onReceive(e.ev.Data)
	case transport.EventError:
		s.logger.Warn("connection error", "remote_id", c.remoteID, "error", e.ev.Err)
		if current && c.Status() == ConnConnecting {
			s.notify("Couldn't establish peer connection")
		}
	case transport.EventClose:
		if !current {
			c.markClosed()
			return
		}
		s.onConnectionClosed(c)
	}
}

func (s *Session) connectTimedOut(c *Connection) {
	if c != s.Connection() || c.Status() != ConnConnecting {
		return
	}
	s.logger.Warn("connection timed out", "remote_id", c.remoteID, "timeout", s.cfg.ConnectTimeout)
	s.notify("Couldn't establish peer connection")
	s.closeConn(c, false)
}

// onConnectionClosed handles a close reported by the transport.
func (s *Session) onConnectionClosed(c *Connection) {
	wasOpen := c.Status() == ConnOpen
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	c.markClosed()
	s.logger.Info("connection closed", "remote_id", c.remoteID)
	if wasOpen {
		s.notify("Peer disconnected")
	}
}

// closeConn closes c locally. notify controls the disconnect notification.
func (s *Session) closeConn(c *Connection, notify bool) {
	status := c.Status()
	if status == ConnClosed {
		return
	}
	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	s.mu.Unlock()
	c.markClosed()
	if err := c.ch.Close(); err != nil {
		s.logger.Debug("close channel", "remote_id", c.remoteID, "error", err)
	}
	s.logger.Info("connection closed locally", "remote_id", c.remoteID)
	if notify && status == ConnOpen {
		s.notify("Peer disconnected")
	}
}

func (s *Session) notify(text string) {
	if s.cfg.Notifier == nil {
		return
	}
	s.cfg.Notifier.Notify(Notification{Text: text, Duration: notifyDuration})
}

// StopSession closes the active connection, then destroys the identity. The
// local id and the remote-id cache are cleared even if the transport fails to
// close cleanly. It waits for pending saves and is safe to call repeatedly.
//
// Called while Start is still waiting for the identity, it cancels the start
// and returns without waiting; Start then reports ErrSessionDestroyed.
func (s *Session) StopSession() {
	if !s.do(s.teardown) {
		s.mu.Lock()
		switch {
		case s.status == StatusIdle:
			s.status = StatusDestroyed
			s.mu.Unlock()
			s.finish()
			return
		case s.status == StatusInitializing:
			s.status = StatusDestroyed
			cancel := s.startCancel
			s.mu.Unlock()
			cancel()
			return
		case s.starting:
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
	<-s.done
	s.saves.Wait()
}

// Stop destroys the identity. It is StopSession.
func (s *Session) Stop() {
	s.StopSession()
}

func (s *Session) teardown() {
	if s.Status() == StatusDestroyed {
		return
	}
	if c := s.Connection(); c != nil {
		s.closeConn(c, false)
	}

	s.mu.Lock()
	s.status = StatusDestroyed
	s.localID = ""
	s.lastRemoteID = ""
	s.mu.Unlock()

	if err := s.provider.Close(); err != nil {
		s.logger.Warn("close provider", "error", err)
	}
	s.logger.Info("session stopped")
}
