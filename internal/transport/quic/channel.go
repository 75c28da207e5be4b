package quic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sheerbytes/turboshare/internal/transport"
	"github.com/sheerbytes/turboshare/pkg/protocol"
)

// lingerTimeout bounds how long a closing side waits for the remote to finish
// reading before the connection is torn down.
const lingerTimeout = 5 * time.Second

var errDialFailed = errors.New("quic dial failed")

// channel is one QUIC connection carrying one bidirectional stream of
// length-prefixed messages.
type channel struct {
	provider     *Provider
	remoteID     string
	connectionID string
	dialer       bool
	maxMessage   int
	queue        *transport.Queue
	unsubscribe  func()

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *quic.Conn
	stream   *quic.Stream
	open     bool
	closed   bool
	outbox   [][]byte
	buffered atomic.Int64

	wake     chan struct{}
	closing  chan struct{}
	readDone chan struct{}
	finished chan struct{}
	finOnce  sync.Once
}

var _ transport.Channel = (*channel)(nil)

func (c *channel) RemoteID() string              { return c.remoteID }
func (c *channel) Events() <-chan transport.Event { return c.queue.Events() }

func (c *channel) BufferedAmount() uint64 {
	n := c.buffered.Load()
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// bind attaches an established connection and starts the read and write
// loops. It reports false if the channel is closed or already bound.
func (c *channel) bind(conn *quic.Conn, stream *quic.Stream) bool {
	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.stream = stream
	c.open = true
	c.mu.Unlock()

	c.queue.Push(transport.Event{Kind: transport.EventOpen})
	go c.readLoop(stream)
	go c.writeLoop(conn, stream)
	return true
}

func (c *channel) bound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send queues data as one frame. Messages over the frame limit are refused
// here instead of failing the connection in the writer.
func (c *channel) Send(data []byte) error {
	if len(data) > c.maxMessage {
		return fmt.Errorf("%w: %d bytes", errFrameTooLarge, len(data))
	}
	msg := make([]byte, len(data))
	copy(msg, data)

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return transport.ErrClosed
	case !c.open:
		c.mu.Unlock()
		return transport.ErrNotOpen
	}
	c.outbox = append(c.outbox, msg)
	c.buffered.Add(int64(len(msg)))
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close tells the remote side and closes the stream once queued messages
// are written.
func (c *channel) Close() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	if err := c.provider.signal.Send(protocol.TypeLeave, c.remoteID, protocol.Leave{ConnectionID: c.connectionID}); err != nil {
		c.provider.logger.Debug("send leave", "remote_id", c.remoteID, "error", err)
	}
	c.shutdown(nil)
	return nil
}

// discard closes a channel that was never handed out and drains its events.
func (c *channel) discard() {
	c.shutdown(nil)
	go func() {
		for range c.queue.Events() {
		}
	}()
}

// wait blocks until the connection is torn down or timeout passes.
func (c *channel) wait(timeout time.Duration) {
	select {
	case <-c.finished:
	case <-time.After(timeout):
	}
}

// shutdown closes the channel once. A non-nil err is reported before the
// close event. An unbound channel finishes immediately; a bound one finishes
// when the write loop has flushed and closed the connection.
func (c *channel) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	bound := c.conn != nil
	c.mu.Unlock()

	if err != nil {
		c.queue.Push(transport.Event{Kind: transport.EventError, Err: err})
	}
	c.queue.Push(transport.Event{Kind: transport.EventClose})
	c.unsubscribe()
	c.provider.forget(c)
	c.cancel()
	close(c.closing)
	if !bound {
		c.finish()
	}
}

func (c *channel) finish() {
	c.finOnce.Do(func() { close(c.finished) })
}

func (c *channel) readLoop(stream *quic.Stream) {
	defer close(c.readDone)
	for {
		msg, err := readFrame(stream, maxFrameSize)
		if err != nil {
			if isNormalClose(err) {
				c.shutdown(nil)
			} else {
				c.shutdown(err)
			}
			return
		}
		c.queue.Push(transport.Event{Kind: transport.EventData, Data: msg})
	}
}

func (c *channel) writeLoop(conn *quic.Conn, stream *quic.Stream) {
	defer c.finish()
	for {
		c.mu.Lock()
		batch := c.outbox
		c.outbox = nil
		c.mu.Unlock()

		for _, msg := range batch {
			err := writeFrame(stream, msg)
			c.buffered.Add(-int64(len(msg)))
			if err != nil {
				c.shutdown(err)
				_ = conn.CloseWithError(1, "write failed")
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-c.wake:
		case <-c.closing:
			c.mu.Lock()
			pending := len(c.outbox)
			c.mu.Unlock()
			if pending > 0 {
				continue
			}
			c.linger(conn, stream)
			return
		}
	}
}

// linger half-closes the stream and waits for the remote side to do the
// same before closing the connection.
func (c *channel) linger(conn *quic.Conn, stream *quic.Stream) {
	_ = stream.Close()
	select {
	case <-c.readDone:
	case <-time.After(lingerTimeout):
	}
	_ = conn.CloseWithError(0, "")
}

func isNormalClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.ErrorCode == 0
	}
	return false
}

// dial races the remote candidates and opens the stream with a hello frame.
func (c *channel) dial(addrs []string) {
	p := c.provider
	conn, addr, err := p.prober.Race(c.ctx, addrs, p.dialTLS(), p.quicConf)
	if err != nil {
		if c.ctx.Err() == nil {
			c.shutdown(fmt.Errorf("%w: %w", errDialFailed, err))
		}
		return
	}
	p.logger.Debug("quic connection established", "remote_id", c.remoteID, "addr", addr)

	stream, err := conn.OpenStreamSync(c.ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "open stream")
		c.shutdown(err)
		return
	}
	if err := writeFrame(stream, []byte(c.connectionID)); err != nil {
		_ = conn.CloseWithError(1, "hello")
		c.shutdown(err)
		return
	}
	if !c.bind(conn, stream) {
		_ = conn.CloseWithError(0, "")
	}
}

// signalLoop applies relayed messages for this connection.
func (c *channel) signalLoop(events <-chan protocol.Envelope) {
	for {
		select {
		case <-c.closing:
			return
		case <-c.provider.signal.Done():
			return
		case env := <-events:
			switch env.Type {
			case protocol.TypeAnswer:
				if !c.dialer {
					continue
				}
				var answer protocol.Answer
				if err := env.DecodePayload(&answer); err != nil {
					c.provider.logger.Warn("invalid answer", "remote_id", c.remoteID, "error", err)
					continue
				}
				if answer.Kind != protocol.KindQUIC || len(answer.Addrs) == 0 {
					c.shutdown(fmt.Errorf("%w: answer without candidates", errDialFailed))
					return
				}
				go c.dial(answer.Addrs)
			case protocol.TypeLeave:
				// Once bound, the stream carries the close after the last message.
				if c.bound() {
					continue
				}
				c.provider.logger.Debug("remote left", "remote_id", c.remoteID)
				if !c.dialer {
					// The hello may still be in flight behind the leave.
					time.AfterFunc(lingerTimeout, func() {
						if !c.bound() {
							c.shutdown(nil)
						}
					})
					continue
				}
				c.shutdown(nil)
				return
			case protocol.TypeExpire:
				if c.bound() {
					continue
				}
				c.shutdown(transport.ErrPeerUnavailable)
				return
			}
		}
	}
}
