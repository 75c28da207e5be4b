package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sheerbytes/turboshare/pkg/protocol"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("connection closed")

const (
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// Conn represents a WebSocket connection to the signaling server.
type Conn struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	sendChan  chan protocol.Envelope
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// Dial establishes a WebSocket connection to the server.
// wsURL is the full WebSocket URL including path and query parameters.
func Dial(ctx context.Context, wsURL string, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}

	c := &Conn{
		conn:     conn,
		logger:   logger,
		sendChan: make(chan protocol.Envelope, 256),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.writeLoop()
	return c, nil
}

// ReadLoop reads envelopes and calls onEnv for each until the connection
// fails, is closed, or ctx is done. It also keeps the connection alive with
// WebSocket pings.
func (c *Conn) ReadLoop(ctx context.Context, onEnv func(env protocol.Envelope)) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	loopDone := make(chan struct{})
	defer close(loopDone)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-loopDone:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			// Closing the socket unblocks ReadMessage immediately.
			_ = c.conn.Close()
		case <-loopDone:
		}
	}()

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Warn("invalid JSON envelope", "error", err)
			continue
		}
		onEnv(env)
	}
}

// Heartbeat sends a heartbeat envelope every interval until ctx is done or the
// connection closes. The server drops clients that stay silent too long.
func (c *Conn) Heartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closing:
			return
		case <-ticker.C:
			env, err := protocol.NewEnvelope(protocol.TypeHeartbeat, protocol.NewMsgID(), nil)
			if err != nil {
				return
			}
			if err := c.Send(env); err != nil {
				return
			}
		}
	}
}

// Send queues an envelope for the writer goroutine.
func (c *Conn) Send(env protocol.Envelope) error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	select {
	case c.sendChan <- env:
		return nil
	case <-c.closing:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	}
}

// writeLoop serializes writes. On Close it flushes what is already queued.
func (c *Conn) writeLoop() {
	defer close(c.done)
	for {
		select {
		case env := <-c.sendChan:
			if err := c.write(env); err != nil {
				c.logger.Error("websocket write error", "error", err)
				return
			}
		case <-c.closing:
			for {
				select {
				case env := <-c.sendChan:
					if err := c.write(env); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) write(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(env)
}

// Close flushes queued envelopes and closes the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		<-c.done
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
		c.writeMu.Unlock()
	})
	return err
}
