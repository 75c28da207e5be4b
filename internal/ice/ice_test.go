package ice

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/pion/stun"
	"github.com/sheerbytes/turboshare/internal/logging"
	"github.com/sheerbytes/turboshare/internal/quictransport"
)

// fakeSTUN answers binding requests with a fixed mapped address.
func fakeSTUN(t *testing.T, mapped *net.UDPAddr) string {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
			if err := req.Decode(); err != nil {
				continue
			}
			res, err := stun.Build(req, stun.BindingSuccess, &stun.XORMappedAddress{IP: mapped.IP, Port: mapped.Port})
			if err != nil {
				continue
			}
			conn.WriteToUDP(res.Raw, from)
		}
	}()
	return "stun:" + conn.LocalAddr().String()
}

func TestProber_STUN(t *testing.T) {
	mapped := &net.UDPAddr{IP: net.IPv4(203, 0, 113, 7), Port: 4242}
	server := fakeSTUN(t, mapped)

	p, err := NewProber(context.Background(), ProberConfig{
		STUNServers: []string{server},
		ListenAddr:  "127.0.0.1:0",
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewProber() error = %v", err)
	}
	defer p.Close()

	addrs := p.PublicAddrs()
	if len(addrs) != 1 || addrs[0].String() != "203.0.113.7:4242" {
		t.Fatalf("PublicAddrs() = %v, want [203.0.113.7:4242]", addrs)
	}
	found := false
	for _, c := range p.Candidates() {
		if c == "203.0.113.7:4242" {
			found = true
		}
	}
	if !found {
		t.Error("Candidates() does not include the public address")
	}
}

func TestProber_STUNUnreachable(t *testing.T) {
	p, err := NewProber(context.Background(), ProberConfig{
		STUNServers: []string{"127.0.0.1:1"},
		STUNTimeout: 50 * time.Millisecond,
		ListenAddr:  "127.0.0.1:0",
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("NewProber() error = %v", err)
	}
	defer p.Close()
	if len(p.PublicAddrs()) != 0 {
		t.Errorf("PublicAddrs() = %v, want none", p.PublicAddrs())
	}
}

func TestProber_Candidates(t *testing.T) {
	p, err := NewProber(context.Background(), ProberConfig{ListenAddr: "127.0.0.1:0", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewProber() error = %v", err)
	}
	defer p.Close()

	p.interfaceAddrs = func() ([]net.Addr, error) {
		return []net.Addr{
			&net.IPNet{IP: net.IPv4(192, 168, 1, 5), Mask: net.CIDRMask(24, 32)},
			&net.IPNet{IP: net.IPv4(192, 168, 1, 5), Mask: net.CIDRMask(24, 32)},
			&net.IPNet{IP: net.IPv4(224, 0, 0, 1), Mask: net.CIDRMask(4, 32)},
			&net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)},
			&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
			&net.IPAddr{IP: net.ParseIP("fe80::2"), Zone: "eth0"},
		}, nil
	}

	port := strconv.Itoa(p.LocalAddr().(*net.UDPAddr).Port)
	want := []string{
		net.JoinHostPort("192.168.1.5", port),
		net.JoinHostPort("fe80::2%eth0", port),
	}
	got := p.Candidates()
	if len(got) != len(want) {
		t.Fatalf("Candidates() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Candidates()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestProber_Race(t *testing.T) {
	listener, err := NewProber(context.Background(), ProberConfig{ListenAddr: "127.0.0.1:0", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewProber() error = %v", err)
	}
	defer listener.Close()
	serverTLS, err := quictransport.ServerTLSConfig()
	if err != nil {
		t.Fatalf("ServerTLSConfig() error = %v", err)
	}
	ln, err := listener.Transport().Listen(serverTLS, quictransport.DefaultQUICConfig())
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() {
		if conn, err := ln.Accept(ctx); err == nil {
			<-ctx.Done()
			conn.CloseWithError(0, "")
		}
	}()

	dialer, err := NewProber(context.Background(), ProberConfig{ListenAddr: "127.0.0.1:0", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewProber() error = %v", err)
	}
	defer dialer.Close()

	target := listener.LocalAddr().String()
	conn, addr, err := dialer.Race(ctx, []string{"not an address", target, target}, quictransport.ClientTLSConfig(), quictransport.DefaultQUICConfig())
	if err != nil {
		t.Fatalf("Race() error = %v", err)
	}
	defer conn.CloseWithError(0, "")
	if addr != target {
		t.Errorf("Race() addr = %q, want %q", addr, target)
	}
}

func TestProber_RaceAllFail(t *testing.T) {
	p, err := NewProber(context.Background(), ProberConfig{ListenAddr: "127.0.0.1:0", Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewProber() error = %v", err)
	}
	defer p.Close()

	_, _, err = p.Race(context.Background(), []string{"bad", "also bad"}, quictransport.ClientTLSConfig(), nil)
	if !errors.Is(err, ErrAllProbesFailed) {
		t.Fatalf("Race() error = %v, want ErrAllProbesFailed", err)
	}
}
