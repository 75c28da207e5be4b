// Package ice gathers address candidates for a UDP socket (local interfaces
// plus the STUN-mapped public address) and races QUIC dials against a remote
// peer's candidates.
package ice

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pion/stun"
	"github.com/quic-go/quic-go"
)

// ErrAllProbesFailed is returned by Race when no candidate answered.
var ErrAllProbesFailed = errors.New("all probes failed")

const defaultSTUNTimeout = 500 * time.Millisecond

// ProberConfig holds configuration for the network prober.
type ProberConfig struct {
	// STUNServers are host:port or stun:host:port. None disables STUN.
	STUNServers []string
	// STUNTimeout bounds each binding request.
	STUNTimeout time.Duration
	// ListenAddr is the local UDP address, ":0" when empty.
	ListenAddr string
	Logger     *slog.Logger
}

// Prober owns one UDP socket used for STUN and then for QUIC.
type Prober struct {
	config      ProberConfig
	logger      *slog.Logger
	udpConn     *net.UDPConn
	publicAddrs []*net.UDPAddr

	mu        sync.Mutex
	transport *quic.Transport

	// interfaceAddrs lists local addresses; replaced in tests.
	interfaceAddrs func() ([]net.Addr, error)
}

// NewProber opens the UDP socket and resolves its public address. A STUN
// failure is logged, not returned: local candidates still work on a LAN.
func NewProber(ctx context.Context, cfg ProberConfig) (*Prober, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.STUNTimeout <= 0 {
		cfg.STUNTimeout = defaultSTUNTimeout
	}
	listen := cfg.ListenAddr
	if listen == "" {
		listen = ":0"
	}

	conn, err := listenUDP(listen)
	if err != nil {
		return nil, err
	}

	p := &Prober{
		config:         cfg,
		logger:         logger,
		udpConn:        conn,
		interfaceAddrs: upInterfaceAddrs,
	}
	if len(cfg.STUNServers) > 0 {
		if err := p.resolvePublicAddr(ctx); err != nil {
			logger.Warn("failed to resolve public address (STUN)", "error", err)
		}
	}
	return p, nil
}

// listenUDP prefers a dual-stack socket and falls back to IPv4.
func listenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve local address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err == nil {
		return conn, nil
	}
	udpAddr, err = net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve local address: %w", err)
	}
	conn, err = net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on UDP: %w", err)
	}
	return conn, nil
}

// UDPConn returns the socket, for buffer tuning.
func (p *Prober) UDPConn() *net.UDPConn {
	return p.udpConn
}

// LocalAddr returns the local address of the socket.
func (p *Prober) LocalAddr() net.Addr {
	return p.udpConn.LocalAddr()
}

// PublicAddrs returns the STUN-mapped addresses.
func (p *Prober) PublicAddrs() []*net.UDPAddr {
	return p.publicAddrs
}

// Transport returns the quic.Transport on the socket, creating it on first
// use. Listening and dialing share it so both use the same port.
func (p *Prober) Transport() *quic.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport == nil {
		p.transport = &quic.Transport{Conn: p.udpConn}
	}
	return p.transport
}

// Close closes the transport, or the bare socket if QUIC never started.
func (p *Prober) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transport != nil {
		return p.transport.Close()
	}
	return p.udpConn.Close()
}

// Candidates returns local and public addresses to share with the remote peer.
func (p *Prober) Candidates() []string {
	_, port, _ := net.SplitHostPort(p.udpConn.LocalAddr().String())

	var candidates []string
	seen := make(map[string]bool)
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			candidates = append(candidates, c)
		}
	}

	addrs, err := p.interfaceAddrs()
	if err != nil {
		p.logger.Error("failed to list interfaces", "error", err)
	}
	for _, addr := range addrs {
		var ip net.IP
		var zone string
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip, zone = v.IP, v.Zone
		}
		if ip == nil || ip.IsMulticast() || ip.IsUnspecified() {
			continue
		}
		host := ip.String()
		if ip.IsLinkLocalUnicast() {
			if zone == "" {
				continue
			}
			host = (&net.IPAddr{IP: ip, Zone: zone}).String()
		}
		add(net.JoinHostPort(host, port))
	}
	for _, addr := range p.publicAddrs {
		add(addr.String())
	}

	p.logger.Debug("gathered candidates", "count", len(candidates), "candidates", candidates)
	return candidates
}

// upInterfaceAddrs lists addresses of interfaces that are up. Link-local
// addresses carry the interface name as zone so they can be dialed.
func upInterfaceAddrs() ([]net.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if n, ok := addr.(*net.IPNet); ok && n.IP.IsLinkLocalUnicast() {
				out = append(out, &net.IPAddr{IP: n.IP, Zone: iface.Name})
				continue
			}
			out = append(out, addr)
		}
	}
	return out, nil
}

// Race dials every candidate concurrently and returns the first QUIC
// connection established, with the address that won. Losers are closed.
func (p *Prober) Race(ctx context.Context, candidates []string, tlsConf *tls.Config, quicConf *quic.Config) (*quic.Conn, string, error) {
	tr := p.Transport()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		conn *quic.Conn
		addr string
	}
	resultCh := make(chan result, 1)
	var wg sync.WaitGroup

	unique := make(map[string]bool)
	for _, c := range candidates {
		if unique[c] {
			continue
		}
		unique[c] = true

		wg.Add(1)
		go func(addrStr string) {
			defer wg.Done()
			udpAddr, err := net.ResolveUDPAddr("udp", addrStr)
			if err != nil {
				p.logger.Debug("invalid remote candidate", "addr", addrStr, "error", err)
				return
			}
			conn, err := tr.Dial(ctx, udpAddr, tlsConf, quicConf)
			if err != nil {
				p.logger.Debug("probe failed", "addr", addrStr, "error", err)
				return
			}
			select {
			case resultCh <- result{conn: conn, addr: addrStr}:
				p.logger.Debug("probe won", "addr", addrStr)
			default:
				_ = conn.CloseWithError(0, "race_lost")
			}
		}(c)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case r := <-resultCh:
		return r.conn, r.addr, nil
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-allDone:
		select {
		case r := <-resultCh:
			return r.conn, r.addr, nil
		default:
			return nil, "", ErrAllProbesFailed
		}
	}
}

func (p *Prober) resolvePublicAddr(ctx context.Context) error {
	// The socket is not shared yet, so reading from it directly is safe.
	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	buf := make([]byte, 1500)

	seen := make(map[string]bool)
	for _, server := range p.config.STUNServers {
		if ctx.Err() != nil {
			break
		}
		serverAddrs, err := resolveSTUNAddrs(ctx, strings.TrimPrefix(server, "stun:"))
		if err != nil {
			p.logger.Warn("invalid STUN server", "server", server, "error", err)
			continue
		}
		for _, serverAddr := range serverAddrs {
			mapped, err := p.bind(msg, serverAddr, buf)
			if err != nil {
				p.logger.Debug("STUN request failed", "server", serverAddr.String(), "error", err)
				continue
			}
			if key := mapped.String(); !seen[key] {
				seen[key] = true
				p.publicAddrs = append(p.publicAddrs, mapped)
				p.logger.Info("public address resolved", "addr", key)
			}
		}
	}

	if len(p.publicAddrs) == 0 {
		return fmt.Errorf("all STUN servers failed")
	}
	return nil
}

// bind sends one binding request and reads the mapped address from the reply.
func (p *Prober) bind(req *stun.Message, server *net.UDPAddr, buf []byte) (*net.UDPAddr, error) {
	if _, err := p.udpConn.WriteToUDP(req.Raw, server); err != nil {
		return nil, err
	}
	_ = p.udpConn.SetReadDeadline(time.Now().Add(p.config.STUNTimeout))
	defer p.udpConn.SetReadDeadline(time.Time{})

	for {
		n, from, err := p.udpConn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		if !from.IP.Equal(server.IP) || from.Port != server.Port {
			continue
		}
		res := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := res.Decode(); err != nil {
			return nil, err
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(res); err == nil {
			return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
		}
		var mappedAddr stun.MappedAddress
		if err := mappedAddr.GetFrom(res); err != nil {
			return nil, err
		}
		return &net.UDPAddr{IP: mappedAddr.IP, Port: mappedAddr.Port}, nil
	}
}

func resolveSTUNAddrs(ctx context.Context, addrStr string) ([]*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(addrStr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IPs for %s", host)
	}
	addrs := make([]*net.UDPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, &net.UDPAddr{IP: ip.IP, Port: port})
	}
	return addrs, nil
}
