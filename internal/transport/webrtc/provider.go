// Package webrtc is the pion/webrtc transport. Every connection is its own
// PeerConnection with one ordered data channel; SDP and trickled ICE
// candidates travel over the signaling server.
package webrtc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sheerbytes/turboshare/internal/signalclient"
	"github.com/sheerbytes/turboshare/internal/transport"
	"github.com/sheerbytes/turboshare/pkg/protocol"
)

// Label is the data channel label.
const Label = "file-transfer"

var _ transport.Provider = (*Provider)(nil)

// Config holds WebRTC provider settings.
type Config struct {
	ServerURL         string
	Key               string
	PeerID            string
	HeartbeatInterval time.Duration
	STUNServers       []string
	TURNServers       []string
	Logger            *slog.Logger
}

// Provider registers with the signaling server and creates WebRTC channels.
type Provider struct {
	cfg       Config
	logger    *slog.Logger
	api       *webrtc.API
	rtcConfig webrtc.Configuration
	signal    *signalclient.Client

	incoming chan transport.Channel
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

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
		cfg:       cfg,
		logger:    logger,
		api:       NewAPI(logger),
		rtcConfig: PeerConnectionConfig(cfg.STUNServers, cfg.TURNServers),
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
		loopDone: make(chan struct{}),
		channels: make(map[string]*channel),
	}
}

func (p *Provider) Open(ctx context.Context) (string, error) {
	id, err := p.signal.Open(ctx)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.opened = true
	p.mu.Unlock()
	go p.acceptLoop()
	return id, nil
}

func (p *Provider) Incoming() <-chan transport.Channel {
	return p.incoming
}

func (p *Provider) acceptLoop() {
	defer close(p.loopDone)
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

// Connect creates a PeerConnection with one data channel and sends the offer.
func (p *Provider) Connect(remoteID string) (transport.Channel, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	pc, err := p.api.NewPeerConnection(p.rtcConfig)
	if err != nil {
		return nil, err
	}

	ordered := true
	dc, err := pc.CreateDataChannel(Label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	ch := p.newChannel(pc, remoteID, "dc_"+uuid.NewString())
	ch.attach(dc)

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err == nil {
		err = p.signal.Send(protocol.TypeOffer, remoteID, protocol.Offer{
			ConnectionID: ch.connectionID,
			Kind:         protocol.KindWebRTC,
			Label:        Label,
			Reliable:     true,
			SDP:          offer.SDP,
		})
	}
	if err != nil {
		ch.discard()
		return nil, err
	}
	p.logger.Debug("offer sent", "remote_id", remoteID, "connection_id", ch.connectionID)
	return ch, nil
}

// answer accepts a remote offer.
func (p *Provider) answer(env protocol.Envelope) (*channel, error) {
	var offer protocol.Offer
	if err := env.DecodePayload(&offer); err != nil {
		return nil, err
	}
	if offer.Kind != "" && offer.Kind != protocol.KindWebRTC {
		return nil, errKind(offer.Kind)
	}
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	pc, err := p.api.NewPeerConnection(p.rtcConfig)
	if err != nil {
		return nil, err
	}
	ch := p.newChannel(pc, env.From, offer.ConnectionID)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != Label {
			p.logger.Debug("ignoring data channel", "label", dc.Label())
			return
		}
		ch.attach(dc)
	})

	err = pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP})
	var answer webrtc.SessionDescription
	if err == nil {
		answer, err = pc.CreateAnswer(nil)
	}
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err == nil {
		err = p.signal.Send(protocol.TypeAnswer, env.From, protocol.Answer{
			ConnectionID: offer.ConnectionID,
			Kind:         protocol.KindWebRTC,
			SDP:          answer.SDP,
		})
	}
	if err != nil {
		ch.discard()
		return nil, err
	}
	ch.remoteDescribed()
	return ch, nil
}

func (p *Provider) newChannel(pc *webrtc.PeerConnection, remoteID, connectionID string) *channel {
	events, unsubscribe := p.signal.Subscribe(connectionID, remoteID)
	ch := &channel{
		provider:     p,
		pc:           pc,
		remoteID:     remoteID,
		connectionID: connectionID,
		queue:        transport.NewQueue(),
		unsubscribe:  unsubscribe,
		done:         make(chan struct{}),
		described:    make(chan struct{}),
	}
	pc.OnICECandidate(ch.sendCandidate)
	pc.OnConnectionStateChange(ch.onStateChange)

	p.mu.Lock()
	p.channels[connectionID] = ch
	p.mu.Unlock()

	go ch.signalLoop(events)
	return ch
}

func (p *Provider) forget(ch *channel) {
	p.mu.Lock()
	if p.channels[ch.connectionID] == ch {
		delete(p.channels, ch.connectionID)
	}
	p.mu.Unlock()
}

func (p *Provider) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return transport.ErrClosed
	}
	return nil
}

// Close closes every channel, telling remote peers, then leaves the server.
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
	p.cancel()
	err := p.signal.Close()
	if opened {
		<-p.loopDone
	}
	return err
}

type errKind string

func (e errKind) Error() string {
	return "unsupported connection kind " + string(e)
}
