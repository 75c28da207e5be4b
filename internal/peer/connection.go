package peer

import (
	"context"
	"sync"
	"time"

	"github.com/sheerbytes/turboshare/internal/transport"
)

// Connection is one data channel to a remote peer. It is never reused: once
// closed, connect again for a new one.
type Connection struct {
	session   *Session
	ch        transport.Channel
	remoteID  string
	direction Direction

	mu     sync.Mutex
	status ConnStatus
	timer  *time.Timer
	opened chan struct{}
	closed chan struct{}
}

func newConnection(s *Session, ch transport.Channel, dir Direction) *Connection {
	return &Connection{
		session:   s,
		ch:        ch,
		remoteID:  ch.RemoteID(),
		direction: dir,
		opened:    make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// RemoteID returns the id of the remote peer.
func (c *Connection) RemoteID() string { return c.remoteID }

// Direction tells whether the local side initiated the connection.
func (c *Connection) Direction() Direction { return c.direction }

// Status returns the current state.
func (c *Connection) Status() ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Opened is closed when the connection opens.
func (c *Connection) Opened() <-chan struct{} { return c.opened }

// Done is closed when the connection closes.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// BufferedAmount returns the bytes queued by the transport but not yet sent.
func (c *Connection) BufferedAmount() uint64 { return c.ch.BufferedAmount() }

// WaitOpen blocks until the connection opens, closes or ctx is done.
func (c *Connection) WaitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	default:
	}
	select {
	case <-c.opened:
		return nil
	case <-c.closed:
		select {
		case <-c.opened:
			// Opened and closed before we looked.
			return ErrNoActiveConnection
		default:
			return ErrConnectionEstablishmentFailed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	if c.session.do(func() { c.session.closeConn(c, true) }) {
		return nil
	}
	if c.markClosed() {
		return c.ch.Close()
	}
	return nil
}

func (c *Connection) setTimer(t *time.Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != ConnConnecting {
		t.Stop()
		return
	}
	c.timer = t
}

func (c *Connection) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Connection) markOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != ConnConnecting {
		return false
	}
	c.status = ConnOpen
	c.stopTimerLocked()
	close(c.opened)
	return true
}

func (c *Connection) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == ConnClosed {
		return false
	}
	c.status = ConnClosed
	c.stopTimerLocked()
	close(c.closed)
	return true
}
