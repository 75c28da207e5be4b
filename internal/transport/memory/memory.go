// Package memory is an in-process transport. Providers created from the same
// Network can reach each other by id, which makes it the transport of choice
// for tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sheerbytes/turboshare/internal/transport"
)

// ErrIDTaken is returned by Open when another provider holds the id.
var ErrIDTaken = errors.New("id is taken")

// Network connects in-process providers.
type Network struct {
	mu           sync.Mutex
	providers    map[string]*Provider
	nextID       int
	failNext     error
	unresponsive map[string]bool
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		providers:    make(map[string]*Provider),
		unresponsive: make(map[string]bool),
	}
}

// NewProvider returns a provider that registers as id on Open. An empty id
// gets a generated one.
func (n *Network) NewProvider(id string) *Provider {
	n.mu.Lock()
	defer n.mu.Unlock()
	if id == "" {
		n.nextID++
		id = fmt.Sprintf("peer-%d", n.nextID)
	}
	return &Provider{
		network:  n,
		id:       id,
		incoming: make(chan transport.Channel, 8),
		channels: make(map[*channel]struct{}),
	}
}

// FailNextConnect makes the next Connect on any provider return err.
func (n *Network) FailNextConnect(err error) {
	n.mu.Lock()
	n.failNext = err
	n.mu.Unlock()
}

// SetUnresponsive makes id swallow offers: channels to it never open.
func (n *Network) SetUnresponsive(id string, unresponsive bool) {
	n.mu.Lock()
	n.unresponsive[id] = unresponsive
	n.mu.Unlock()
}

// Provider is one registration on a Network.
type Provider struct {
	network *Network
	id      string

	mu       sync.Mutex
	openErr  error
	open     bool
	closed   bool
	incoming chan transport.Channel
	channels map[*channel]struct{}
}

// FailOpen makes Open return err.
func (p *Provider) FailOpen(err error) {
	p.mu.Lock()
	p.openErr = err
	p.mu.Unlock()
}

// ID returns the id the provider registers with.
func (p *Provider) ID() string {
	return p.id
}

func (p *Provider) Open(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return "", p.openErr
	}
	if p.closed {
		return "", transport.ErrClosed
	}

	n := p.network
	n.mu.Lock()
	defer n.mu.Unlock()
	if other, ok := n.providers[p.id]; ok && other != p {
		return "", ErrIDTaken
	}
	n.providers[p.id] = p
	p.open = true
	return p.id, nil
}

func (p *Provider) Connect(remoteID string) (transport.Channel, error) {
	p.mu.Lock()
	if !p.open || p.closed {
		p.mu.Unlock()
		return nil, transport.ErrClosed
	}
	p.mu.Unlock()

	n := p.network
	n.mu.Lock()
	if err := n.failNext; err != nil {
		n.failNext = nil
		n.mu.Unlock()
		return nil, err
	}
	remote := n.providers[remoteID]
	unresponsive := n.unresponsive[remoteID]
	n.mu.Unlock()

	local := newChannel(p, remoteID)
	p.track(local)

	switch {
	case remote == nil:
		local.fail(transport.ErrPeerUnavailable)
		return local, nil
	case unresponsive:
		return local, nil
	}

	accepted := newChannel(remote, p.id)
	local.peer, accepted.peer = accepted, local
	if !remote.offer(accepted) {
		local.peer = nil
		local.fail(transport.ErrPeerUnavailable)
		return local, nil
	}
	accepted.markOpen()
	local.markOpen()
	return local, nil
}

// offer hands ch to the remote side's Incoming.
func (p *Provider) offer(ch *channel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.incoming <- ch:
		p.channels[ch] = struct{}{}
		return true
	default:
		return false
	}
}

func (p *Provider) track(ch *channel) {
	p.mu.Lock()
	p.channels[ch] = struct{}{}
	p.mu.Unlock()
}

func (p *Provider) untrack(ch *channel) {
	p.mu.Lock()
	delete(p.channels, ch)
	p.mu.Unlock()
}

func (p *Provider) Incoming() <-chan transport.Channel {
	return p.incoming
}

// Close unregisters the provider and closes every channel it owns.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	channels := make([]*channel, 0, len(p.channels))
	for ch := range p.channels {
		channels = append(channels, ch)
	}
	close(p.incoming)
	p.mu.Unlock()

	n := p.network
	n.mu.Lock()
	if n.providers[p.id] == p {
		delete(n.providers, p.id)
	}
	n.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	return nil
}

type channel struct {
	owner    *Provider
	remoteID string
	queue    *transport.Queue

	mu     sync.Mutex
	peer   *channel
	open   bool
	closed bool
}

func newChannel(owner *Provider, remoteID string) *channel {
	return &channel{owner: owner, remoteID: remoteID, queue: transport.NewQueue()}
}

func (c *channel) RemoteID() string              { return c.remoteID }
func (c *channel) Events() <-chan transport.Event { return c.queue.Events() }
func (c *channel) BufferedAmount() uint64         { return 0 }

func (c *channel) markOpen() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.open = true
	c.mu.Unlock()
	c.queue.Push(transport.Event{Kind: transport.EventOpen})
}

func (c *channel) fail(err error) {
	c.queue.Push(transport.Event{Kind: transport.EventError, Err: err})
	c.shutdown()
}

func (c *channel) Send(data []byte) error {
	c.mu.Lock()
	peer := c.peer
	open, closed := c.open, c.closed
	c.mu.Unlock()
	switch {
	case closed:
		return transport.ErrClosed
	case !open:
		return transport.ErrNotOpen
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	if !peer.queue.Push(transport.Event{Kind: transport.EventData, Data: buf}) {
		return transport.ErrClosed
	}
	return nil
}

// Close closes both ends.
func (c *channel) Close() error {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()
	c.shutdown()
	if peer != nil {
		peer.shutdown()
	}
	return nil
}

func (c *channel) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.owner.untrack(c)
	c.queue.Push(transport.Event{Kind: transport.EventClose})
}
