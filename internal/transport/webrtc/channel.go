package webrtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sheerbytes/turboshare/internal/transport"
	"github.com/sheerbytes/turboshare/pkg/protocol"
)

var errConnectionFailed = errors.New("peer connection failed")

// channel is one PeerConnection carrying one data channel.
type channel struct {
	provider     *Provider
	pc           *webrtc.PeerConnection
	remoteID     string
	connectionID string
	queue        *transport.Queue
	unsubscribe  func()

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	open      bool
	closed    bool
	asm       assembler
	done      chan struct{}
	described chan struct{}
	descOnce  sync.Once
}

var _ transport.Channel = (*channel)(nil)

func (c *channel) RemoteID() string              { return c.remoteID }
func (c *channel) Events() <-chan transport.Event { return c.queue.Events() }

func (c *channel) BufferedAmount() uint64 {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return 0
	}
	return dc.BufferedAmount()
}

func (c *channel) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	if c.dc != nil || c.closed {
		c.mu.Unlock()
		_ = dc.Close()
		return
	}
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.open = true
		c.mu.Unlock()
		c.queue.Push(transport.Event{Kind: transport.EventOpen})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.Lock()
		data, complete, err := c.asm.add(msg.Data)
		c.mu.Unlock()
		if err != nil {
			c.provider.logger.Warn("dropping data channel chunk", "remote_id", c.remoteID, "error", err)
			return
		}
		if complete {
			c.queue.Push(transport.Event{Kind: transport.EventData, Data: data})
		}
	})
	dc.OnError(func(err error) {
		c.queue.Push(transport.Event{Kind: transport.EventError, Err: err})
	})
	dc.OnClose(func() {
		c.shutdown(nil)
	})
}

// discard closes a channel that was never handed out and drains its events.
func (c *channel) discard() {
	c.shutdown(nil)
	go func() {
		for range c.queue.Events() {
		}
	}()
}

func (c *channel) Send(data []byte) error {
	c.mu.Lock()
	dc, open, closed := c.dc, c.open, c.closed
	c.mu.Unlock()
	switch {
	case closed:
		return transport.ErrClosed
	case !open:
		return transport.ErrNotOpen
	}
	for _, chunk := range splitMessage(data, chunkSize) {
		if err := dc.Send(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Close tells the remote side and tears the connection down.
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

// shutdown closes the channel once. A non-nil err is reported before the
// close event.
func (c *channel) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if err != nil {
		c.queue.Push(transport.Event{Kind: transport.EventError, Err: err})
	}
	c.queue.Push(transport.Event{Kind: transport.EventClose})
	c.unsubscribe()
	c.provider.forget(c)
	close(c.done)

	// pion callbacks may be running on this goroutine.
	go func() {
		if err := c.pc.Close(); err != nil {
			c.provider.logger.Debug("close peer connection", "remote_id", c.remoteID, "error", err)
		}
	}()
}

func (c *channel) onStateChange(state webrtc.PeerConnectionState) {
	c.provider.logger.Debug("peer connection state", "remote_id", c.remoteID, "state", state.String())
	switch state {
	case webrtc.PeerConnectionStateFailed:
		c.shutdown(errConnectionFailed)
	case webrtc.PeerConnectionStateClosed:
		c.shutdown(nil)
	}
}

func (c *channel) sendCandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		return
	}
	init := candidate.ToJSON()
	err := c.provider.signal.Send(protocol.TypeCandidate, c.remoteID, protocol.Candidate{
		ConnectionID:  c.connectionID,
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	})
	if err != nil {
		c.provider.logger.Debug("send candidate", "remote_id", c.remoteID, "error", err)
	}
}

// remoteDescribed marks the remote description as set so buffered candidates
// can be applied.
func (c *channel) remoteDescribed() {
	c.descOnce.Do(func() { close(c.described) })
}

// signalLoop applies relayed messages for this connection.
func (c *channel) signalLoop(events <-chan protocol.Envelope) {
	var pending []webrtc.ICECandidateInit
	described := c.described
	for {
		select {
		case <-c.done:
			return
		case <-c.provider.signal.Done():
			return
		case <-described:
			for _, cand := range pending {
				c.addCandidate(cand)
			}
			pending = nil
			described = nil
		case env := <-events:
			switch env.Type {
			case protocol.TypeAnswer:
				var answer protocol.Answer
				if err := env.DecodePayload(&answer); err != nil {
					c.provider.logger.Warn("invalid answer", "remote_id", c.remoteID, "error", err)
					continue
				}
				desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}
				if err := c.pc.SetRemoteDescription(desc); err != nil {
					c.provider.logger.Warn("apply answer", "remote_id", c.remoteID, "error", err)
					c.shutdown(err)
					return
				}
				c.remoteDescribed()
			case protocol.TypeCandidate:
				var cand protocol.Candidate
				if err := env.DecodePayload(&cand); err != nil {
					continue
				}
				init := webrtc.ICECandidateInit{
					Candidate:     cand.Candidate,
					SDPMid:        cand.SDPMid,
					SDPMLineIndex: cand.SDPMLineIndex,
				}
				if described != nil {
					pending = append(pending, init)
					continue
				}
				c.addCandidate(init)
			case protocol.TypeLeave:
				c.provider.logger.Debug("remote left", "remote_id", c.remoteID)
				c.shutdown(nil)
				return
			case protocol.TypeExpire:
				c.shutdown(transport.ErrPeerUnavailable)
				return
			}
		}
	}
}

func (c *channel) addCandidate(init webrtc.ICECandidateInit) {
	if err := c.pc.AddICECandidate(init); err != nil {
		c.provider.logger.Debug("add candidate", "remote_id", c.remoteID, "error", err)
	}
}
