// Package transport defines the contract between a peer session and the
// network layer that allocates identities and carries data channels.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when sending on a closed channel or provider.
	ErrClosed = errors.New("transport closed")
	// ErrNotOpen is returned when sending before the channel has opened.
	ErrNotOpen = errors.New("channel not open")
	// ErrPeerUnavailable is reported when the remote peer never answered.
	ErrPeerUnavailable = errors.New("peer unavailable")
)

// EventKind identifies a channel notification.
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventData
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one notification from a Channel. Data is set for EventData and Err
// for EventError.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Channel is a reliable, ordered, message-oriented link to one remote peer.
//
// Events delivers notifications in order. EventClose is always the last event
// and the channel is closed right after it, so consumers can range over it.
type Channel interface {
	RemoteID() string
	Events() <-chan Event
	Send(data []byte) error
	BufferedAmount() uint64
	Close() error
}

// Provider allocates the local identity and creates channels.
type Provider interface {
	// Open registers with the network and returns the local id.
	Open(ctx context.Context) (string, error)
	// Connect starts an outgoing channel. The returned channel reports
	// EventOpen once the remote side accepts it.
	Connect(remoteID string) (Channel, error)
	// Incoming delivers channels opened by remote peers. It is closed when the
	// provider closes or loses its network registration.
	Incoming() <-chan Channel
	Close() error
}
