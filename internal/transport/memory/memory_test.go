package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sheerbytes/turboshare/internal/transport"
)

func next(t *testing.T, ch transport.Channel) transport.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return transport.Event{}
	}
}

func openProvider(t *testing.T, n *Network, id string) *Provider {
	t.Helper()
	p := n.NewProvider(id)
	if _, err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open(%q) error = %v", id, err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestProvider_ConnectAndExchange(t *testing.T) {
	n := NewNetwork()
	a := openProvider(t, n, "A1")
	b := openProvider(t, n, "B1")

	out, err := a.Connect("B1")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	var in transport.Channel
	select {
	case in = <-b.Incoming():
	case <-time.After(2 * time.Second):
		t.Fatal("no incoming channel")
	}
	if out.RemoteID() != "B1" || in.RemoteID() != "A1" {
		t.Errorf("remote ids = %q/%q, want B1/A1", out.RemoteID(), in.RemoteID())
	}
	if ev := next(t, out); ev.Kind != transport.EventOpen {
		t.Fatalf("outgoing first event = %v, want open", ev.Kind)
	}
	if ev := next(t, in); ev.Kind != transport.EventOpen {
		t.Fatalf("incoming first event = %v, want open", ev.Kind)
	}

	if err := out.Send([]byte("hello")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if ev := next(t, in); ev.Kind != transport.EventData || string(ev.Data) != "hello" {
		t.Errorf("event = %+v, want data hello", ev)
	}

	in.Close()
	if ev := next(t, out); ev.Kind != transport.EventClose {
		t.Errorf("event = %v, want close", ev.Kind)
	}
	if err := out.Send([]byte("x")); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Send() after close error = %v, want ErrClosed", err)
	}
}

func TestProvider_UnknownPeer(t *testing.T) {
	n := NewNetwork()
	a := openProvider(t, n, "A1")

	ch, err := a.Connect("nobody")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ev := next(t, ch)
	if ev.Kind != transport.EventError || !errors.Is(ev.Err, transport.ErrPeerUnavailable) {
		t.Fatalf("event = %+v, want peer unavailable error", ev)
	}
	if ev := next(t, ch); ev.Kind != transport.EventClose {
		t.Errorf("event = %v, want close", ev.Kind)
	}
}

func TestProvider_Hooks(t *testing.T) {
	n := NewNetwork()
	p := n.NewProvider("A1")
	p.FailOpen(errors.New("boom"))
	if _, err := p.Open(context.Background()); err == nil {
		t.Fatal("Open() with FailOpen expected error")
	}

	a := openProvider(t, n, "A2")
	openProvider(t, n, "B2")
	n.FailNextConnect(errors.New("refused"))
	if _, err := a.Connect("B2"); err == nil {
		t.Fatal("Connect() after FailNextConnect expected error")
	}
	if _, err := a.Connect("B2"); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
}

func TestProvider_IDTaken(t *testing.T) {
	n := NewNetwork()
	openProvider(t, n, "A1")
	if _, err := n.NewProvider("A1").Open(context.Background()); !errors.Is(err, ErrIDTaken) {
		t.Fatalf("Open() error = %v, want ErrIDTaken", err)
	}
}

func TestProvider_CloseClosesIncoming(t *testing.T) {
	n := NewNetwork()
	p := n.NewProvider("")
	id, err := p.Open(context.Background())
	if err != nil || id == "" {
		t.Fatalf("Open() = %q, %v", id, err)
	}
	p.Close()
	if _, ok := <-p.Incoming(); ok {
		t.Error("Incoming() still open after Close")
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
