package signalclient

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sheerbytes/turboshare/internal/logging"
	"github.com/sheerbytes/turboshare/internal/signaling"
	"github.com/sheerbytes/turboshare/pkg/protocol"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := signaling.New(signaling.Config{
		Key:             "k",
		AliveTimeout:    time.Minute,
		ExpireTimeout:   50 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
		Logger:          logging.Discard(),
	})
	ts := httptest.NewServer(s.Handler())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return ts
}

func openClient(t *testing.T, serverURL, id string) *Client {
	t.Helper()
	c := New(Config{ServerURL: serverURL, Key: "k", PeerID: id, Logger: logging.Discard()})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := c.Open(ctx); err != nil {
		t.Fatalf("Open(%q) error = %v", id, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func recv(t *testing.T, ch <-chan protocol.Envelope) protocol.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return protocol.Envelope{}
	}
}

func TestOpen_AllocatesID(t *testing.T) {
	ts := startServer(t)
	c := openClient(t, ts.URL, "")
	if c.ID() == "" {
		t.Fatal("ID() is empty after Open")
	}
}

func TestOpen_RequestedID(t *testing.T) {
	ts := startServer(t)
	c := openClient(t, ts.URL, "A1")
	if c.ID() != "A1" {
		t.Errorf("ID() = %q, want A1", c.ID())
	}
}

func TestOpen_IDTaken(t *testing.T) {
	ts := startServer(t)
	openClient(t, ts.URL, "A1")

	c := New(Config{ServerURL: ts.URL, Key: "k", PeerID: "A1", Logger: logging.Discard()})
	_, err := c.Open(context.Background())
	if !errors.Is(err, ErrIDTaken) {
		t.Fatalf("Open() error = %v, want ErrIDTaken", err)
	}
}

func TestOpen_InvalidKey(t *testing.T) {
	ts := startServer(t)
	c := New(Config{ServerURL: ts.URL, Key: "other", PeerID: "A1", Logger: logging.Discard()})
	_, err := c.Open(context.Background())
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Open() error = %v, want ErrInvalidKey", err)
	}
}

func TestOpen_ServerUnreachable(t *testing.T) {
	c := New(Config{ServerURL: "http://127.0.0.1:1", Key: "k", Logger: logging.Discard()})
	if _, err := c.Open(context.Background()); err == nil {
		t.Fatal("Open() expected error, got nil")
	}
}

func TestClient_OfferAndSubscription(t *testing.T) {
	ts := startServer(t)
	a := openClient(t, ts.URL, "A1")
	b := openClient(t, ts.URL, "B1")

	answers, unsubscribe := a.Subscribe("dc_1", "B1")
	defer unsubscribe()

	if err := a.Send(protocol.TypeOffer, "B1", protocol.Offer{ConnectionID: "dc_1", Kind: protocol.KindWebRTC}); err != nil {
		t.Fatalf("Send(offer) error = %v", err)
	}
	offer := recv(t, b.Offers())
	if offer.From != "A1" || offer.Type != protocol.TypeOffer {
		t.Fatalf("offer = %+v", offer)
	}

	if err := b.Send(protocol.TypeAnswer, "A1", protocol.Answer{ConnectionID: "dc_1", Kind: protocol.KindWebRTC}); err != nil {
		t.Fatalf("Send(answer) error = %v", err)
	}
	answer := recv(t, answers)
	if answer.Type != protocol.TypeAnswer || answer.From != "B1" {
		t.Errorf("answer = %+v", answer)
	}

	if err := b.Send(protocol.TypeLeave, "A1", protocol.Leave{}); err != nil {
		t.Fatalf("Send(leave) error = %v", err)
	}
	if leave := recv(t, answers); leave.Type != protocol.TypeLeave {
		t.Errorf("got %s, want leave routed by remote id", leave.Type)
	}
}

func TestClient_ExpireRoutedToSubscriber(t *testing.T) {
	ts := startServer(t)
	a := openClient(t, ts.URL, "A1")

	events, unsubscribe := a.Subscribe("dc_9", "Z9")
	defer unsubscribe()

	if err := a.Send(protocol.TypeOffer, "Z9", protocol.Offer{ConnectionID: "dc_9"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	env := recv(t, events)
	if env.Type != protocol.TypeExpire {
		t.Fatalf("got %s, want expire", env.Type)
	}
	var exp protocol.Expire
	if err := env.DecodePayload(&exp); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if exp.PeerID != "Z9" {
		t.Errorf("expire peer = %q, want Z9", exp.PeerID)
	}
}

func TestClient_CloseEndsDone(t *testing.T) {
	ts := startServer(t)
	c := openClient(t, ts.URL, "A1")
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after Close")
	}
	if err := c.Send(protocol.TypeLeave, "B1", protocol.Leave{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
}

func TestClient_CandidatesAfterOfferAreHeld(t *testing.T) {
	ts := startServer(t)
	a := openClient(t, ts.URL, "A1")
	b := openClient(t, ts.URL, "B1")

	if err := a.Send(protocol.TypeOffer, "B1", protocol.Offer{ConnectionID: "dc_2"}); err != nil {
		t.Fatalf("Send(offer) error = %v", err)
	}
	if err := a.Send(protocol.TypeCandidate, "B1", protocol.Candidate{ConnectionID: "dc_2", Candidate: "candidate:1"}); err != nil {
		t.Fatalf("Send(candidate) error = %v", err)
	}
	offer := recv(t, b.Offers())

	// Give the candidate time to arrive before subscribing.
	time.Sleep(100 * time.Millisecond)
	events, unsubscribe := b.Subscribe("dc_2", offer.From)
	defer unsubscribe()

	env := recv(t, events)
	var cand protocol.Candidate
	if err := env.DecodePayload(&cand); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if env.Type != protocol.TypeCandidate || cand.Candidate != "candidate:1" {
		t.Errorf("got %s %q, want the held candidate", env.Type, cand.Candidate)
	}
}
