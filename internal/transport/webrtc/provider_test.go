package webrtc

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sheerbytes/turboshare/internal/logging"
	"github.com/sheerbytes/turboshare/internal/signaling"
	"github.com/sheerbytes/turboshare/internal/transport"
)

func startSignaling(t *testing.T) string {
	t.Helper()
	s := signaling.New(signaling.Config{
		Key:             "k",
		AliveTimeout:    time.Minute,
		ExpireTimeout:   200 * time.Millisecond,
		CleanupInterval: 20 * time.Millisecond,
		Logger:          logging.Discard(),
	})
	ts := httptest.NewServer(s.Handler())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return ts.URL
}

func openProvider(t *testing.T, serverURL, id string) *Provider {
	t.Helper()
	p := New(Config{ServerURL: serverURL, Key: "k", PeerID: id, Logger: logging.Discard()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := p.Open(ctx)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", id, err)
	}
	if got != id {
		t.Fatalf("Open() id = %q, want %q", got, id)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func nextEvent(t *testing.T, ch transport.Channel, timeout time.Duration) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return transport.Event{}
	}
}

func TestProvider_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("needs local ICE")
	}
	serverURL := startSignaling(t)
	a := openProvider(t, serverURL, "A1")
	b := openProvider(t, serverURL, "B1")

	out, err := a.Connect("B1")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	var in transport.Channel
	select {
	case in = <-b.Incoming():
	case <-time.After(10 * time.Second):
		t.Fatal("no incoming channel")
	}
	if in.RemoteID() != "A1" {
		t.Errorf("incoming RemoteID() = %q, want A1", in.RemoteID())
	}

	if ev := nextEvent(t, out, 15*time.Second); ev.Kind != transport.EventOpen {
		t.Fatalf("outgoing event = %v (%v), want open", ev.Kind, ev.Err)
	}
	if ev := nextEvent(t, in, 15*time.Second); ev.Kind != transport.EventOpen {
		t.Fatalf("incoming event = %v (%v), want open", ev.Kind, ev.Err)
	}

	payload := bytes.Repeat([]byte("0123456789"), 10_000)
	if err := out.Send(payload); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	ev := nextEvent(t, in, 10*time.Second)
	if ev.Kind != transport.EventData || !bytes.Equal(ev.Data, payload) {
		t.Fatalf("received %v with %d bytes, want %d bytes of data", ev.Kind, len(ev.Data), len(payload))
	}

	out.Close()
	for {
		ev := nextEvent(t, in, 10*time.Second)
		if ev.Kind == transport.EventClose {
			break
		}
	}
}

func TestProvider_UnknownPeerExpires(t *testing.T) {
	serverURL := startSignaling(t)
	a := openProvider(t, serverURL, "A1")

	ch, err := a.Connect("nobody")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	var sawUnavailable bool
	for {
		ev := nextEvent(t, ch, 5*time.Second)
		if ev.Kind == transport.EventError && ev.Err == transport.ErrPeerUnavailable {
			sawUnavailable = true
		}
		if ev.Kind == transport.EventClose {
			break
		}
	}
	if !sawUnavailable {
		t.Error("no peer unavailable error before close")
	}
}

func TestProvider_CloseClosesIncoming(t *testing.T) {
	serverURL := startSignaling(t)
	p := openProvider(t, serverURL, "A1")
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case _, ok := <-p.Incoming():
		if ok {
			t.Fatal("unexpected incoming channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Incoming() not closed after Close")
	}
	if _, err := p.Connect("B1"); err != transport.ErrClosed {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}
}
