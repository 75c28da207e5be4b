// Package quic is a transport that runs each connection as one QUIC stream
// over a STUN-probed UDP socket. Offers and answers carry address
// candidates; the dialer races them and opens the stream with a hello frame
// naming the signaled connection.
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/sheerbytes/turboshare/internal/ice"
	"github.com/sheerbytes/turboshare/internal/quictransport"
	"github.com/sheerbytes/turboshare/internal/signalclient"
	"github.com/sheerbytes/turboshare/internal/transport"
	"github.com/sheerbytes/turboshare/pkg/protocol"
)

const helloTimeout = 10 * time.Second

var _ transport.Provider = (*Provider)(nil)

// Config holds QUIC provider settings.
type Config struct {
	ServerURL         string
	Key               string
	PeerID            string
	HeartbeatInterval time.Duration
	STUNServers       []string
	// ListenAddr is the local UDP address, ":0" when empty.
	ListenAddr string
	Logger     *slog.Logger
}

// Provider registers with the signaling server and accepts QUIC connections
// on its probed socket.
type Provider struct {
	cfg    Config
	logger *slog.Logger
	signal *signalclient.Client

	prober   *ice.Prober
	listener *quic.Listener
	quicConf *quic.Config
	addrs    []string

	incoming chan transport.Channel
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	channels map[string]*channel
	opened   bool
	closed   bool
}

// New creates a provider. Call Open to register.
func New(cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		cfg:    cfg,
		logger: logger,
		signal: signalclient.New(signalclient.Config{
			ServerURL:         cfg.ServerURL,
			Key:               cfg.Key,
			PeerID:            cfg.PeerID,
			HeartbeatInterval: cfg.HeartbeatInterval,
			Logger:            logger,
		}),
		incoming: make(chan transport.Channel, 4),
		ctx:      ctx,
		cancel:   cancel,
		channels: make(map[string]*channel),
	}
}

// Open binds the UDP socket, resolves candidates, starts the QUIC listener
// and registers with the signaling server.
func (p *Provider) Open(ctx context.Context) (string, error) {
	serverTLS, err := quictransport.ServerTLSConfig()
	if err != nil {
		return "", err
	}
	prober, err := ice.NewProber(ctx, ice.ProberConfig{
		STUNServers: p.cfg.STUNServers,
		ListenAddr:  p.cfg.ListenAddr,
		Logger:      p.logger,
	})
	if err != nil {
		return "", err
	}
	if res := quictransport.ApplyUDPBuffers(prober.UDPConn(), quictransport.DefaultUDPBuffer); res.Status != quictransport.StatusOK {
		p.logger.Debug("udp buffer tuning", "status", res.Status, "error", res.Err)
	}
	quicConf, tune := quictransport.BuildConfig(quictransport.DefaultQUICConfig(),
		quictransport.DefaultConnWindow, quictransport.DefaultStreamWindow)
	p.logger.Debug("quic windows", "conn", tune.ConnWin, "stream", tune.StreamWin)

	listener, err := prober.Transport().Listen(serverTLS, quicConf)
	if err != nil {
		prober.Close()
		return "", fmt.Errorf("quic listen: %w", err)
	}

	id, err := p.signal.Open(ctx)
	if err != nil {
		listener.Close()
		prober.Close()
		return "", err
	}

	p.mu.Lock()
	p.prober = prober
	p.listener = listener
	p.quicConf = quicConf
	p.addrs = prober.Candidates()
	p.opened = true
	p.mu.Unlock()
	p.logger.Info("quic listening", "local_addr", prober.LocalAddr().String(), "candidates", len(p.addrs))

	p.wg.Add(2)
	go p.acceptOffers()
	go p.acceptConns()
	return id, nil
}

func (p *Provider) Incoming() <-chan transport.Channel {
	return p.incoming
}

func (p *Provider) acceptOffers() {
	defer p.wg.Done()
	defer close(p.incoming)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.signal.Done():
			p.logger.Error("signaling connection lost")
			return
		case env := <-p.signal.Offers():
			ch, err := p.answer(env)
			if err != nil {
				p.logger.Warn("rejecting offer", "from", env.From, "error", err)
				continue
			}
			select {
			case p.incoming <- ch:
			case <-p.ctx.Done():
				ch.Close()
				ch.discard()
				return
			}
		}
	}
}

func (p *Provider) answer(env protocol.Envelope) (*channel, error) {
	var offer protocol.Offer
	if err := env.DecodePayload(&offer); err != nil {
		return nil, err
	}
	if offer.Kind != protocol.KindQUIC {
		return nil, fmt.Errorf("unsupported connection kind %q", offer.Kind)
	}
	if offer.ConnectionID == "" {
		return nil, fmt.Errorf("offer without connection id")
	}

	ch, err := p.newChannel(env.From, offer.ConnectionID)
	if err != nil {
		return nil, err
	}
	err = p.signal.Send(protocol.TypeAnswer, env.From, protocol.Answer{
		ConnectionID: offer.ConnectionID,
		Kind:         protocol.KindQUIC,
		Addrs:        p.addrs,
	})
	if err != nil {
		ch.discard()
		return nil, err
	}
	return ch, nil
}

// acceptConns accepts QUIC connections and binds them to the channel named
// by their hello frame.
func (p *Provider) acceptConns() {
	defer p.wg.Done()
	for {
		conn, err := p.listener.Accept(p.ctx)
		if err != nil {
			return
		}
		go p.handshake(conn)
	}
}

func (p *Provider) handshake(conn *quic.Conn) {
	ctx, cancel := context.WithTimeout(p.ctx, helloTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "no stream")
		return
	}
	hello, err := readFrame(stream, maxHelloSize)
	if err != nil {
		_ = conn.CloseWithError(1, "bad hello")
		return
	}

	p.mu.Lock()
	ch := p.channels[string(hello)]
	p.mu.Unlock()
	if ch == nil || !ch.bind(conn, stream) {
		p.logger.Debug("unexpected quic connection", "remote_addr", conn.RemoteAddr().String())
		_ = conn.CloseWithError(1, "unknown connection")
		return
	}
	p.logger.Debug("quic connection accepted", "remote_id", ch.remoteID, "remote_addr", conn.RemoteAddr().String())
}

// Connect sends an offer with the local candidates. The dial starts when the
// answer arrives.
func (p *Provider) Connect(remoteID string) (transport.Channel, error) {
	p.mu.Lock()
	opened, closed := p.opened, p.closed
	p.mu.Unlock()
	if !opened || closed {
		return nil, transport.ErrClosed
	}

	ch, err := p.newChannel(remoteID, "qc_"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	ch.dialer = true
	err = p.signal.Send(protocol.TypeOffer, remoteID, protocol.Offer{
		ConnectionID: ch.connectionID,
		Kind:         protocol.KindQUIC,
		Reliable:     true,
		Addrs:        p.addrs,
	})
	if err != nil {
		ch.discard()
		return nil, err
	}
	return ch, nil
}

func (p *Provider) newChannel(remoteID, connectionID string) (*channel, error) {
	events, unsubscribe := p.signal.Subscribe(connectionID, remoteID)
	ctx, cancel := context.WithCancel(p.ctx)
	ch := &channel{
		provider:     p,
		remoteID:     remoteID,
		connectionID: connectionID,
		maxMessage:   maxFrameSize,
		queue:        transport.NewQueue(),
		ctx:          ctx,
		cancel:       cancel,
		unsubscribe:  unsubscribe,
		wake:         make(chan struct{}, 1),
		closing:      make(chan struct{}),
		readDone:     make(chan struct{}),
		finished:     make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		unsubscribe()
		return nil, transport.ErrClosed
	}
	p.channels[connectionID] = ch
	p.mu.Unlock()

	go ch.signalLoop(events)
	return ch, nil
}

func (p *Provider) forget(ch *channel) {
	p.mu.Lock()
	if p.channels[ch.connectionID] == ch {
		delete(p.channels, ch.connectionID)
	}
	p.mu.Unlock()
}

func (p *Provider) dialTLS() *tls.Config {
	return quictransport.ClientTLSConfig()
}

// Close closes every channel, leaves the server and releases the socket.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	opened := p.opened
	channels := make([]*channel, 0, len(p.channels))
	for _, ch := range p.channels {
		channels = append(channels, ch)
	}
	p.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	err := p.signal.Close()
	if !opened {
		p.cancel()
		return err
	}

	for _, ch := range channels {
		ch.wait(2 * time.Second)
	}
	p.cancel()
	p.listener.Close()
	p.wg.Wait()
	if cerr := p.prober.Close(); err == nil {
		err = cerr
	}
	return err
}
