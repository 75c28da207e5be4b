package peer

import (
	"errors"

	"github.com/sheerbytes/turboshare/pkg/protocol"
)

var (
	// ErrSignaling wraps failures to allocate or keep the local identity.
	ErrSignaling = errors.New("signaling error")
	// ErrNoPeerTarget is returned by ConnectTo for an empty remote id.
	ErrNoPeerTarget = errors.New("no peer to connect")
	// ErrSelfConnectionRejected is returned by ConnectTo for the local id.
	ErrSelfConnectionRejected = errors.New("can't connect with yourself")
	// ErrConnectionEstablishmentFailed is returned when the provider refuses a connect.
	ErrConnectionEstablishmentFailed = errors.New("couldn't establish peer connection")
	// ErrNoActiveConnection is returned by Send without an open connection.
	ErrNoActiveConnection = errors.New("no peer connected")
	// ErrNoFileSelected is returned by Send with nothing to send.
	ErrNoFileSelected = errors.New("no file selected")
	// ErrSessionDestroyed is returned for commands after StopSession.
	ErrSessionDestroyed = errors.New("session destroyed")
	// ErrNotReady is returned for commands before Start completes.
	ErrNotReady = errors.New("session not ready")

	// ErrUnknownMessageKind is reported for received frames of another kind.
	ErrUnknownMessageKind = protocol.ErrUnknownMessageKind
)

// UserMessage returns the text shown to the user for err, or "" when the error
// is not meant for display.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoPeerTarget):
		return "No peer to connect"
	case errors.Is(err, ErrSelfConnectionRejected):
		return "You can't connect with yourself"
	case errors.Is(err, ErrConnectionEstablishmentFailed):
		return "Couldn't establish peer connection"
	case errors.Is(err, ErrNoActiveConnection):
		return "No peer connected"
	case errors.Is(err, ErrNoFileSelected):
		return "Please select a file"
	case errors.Is(err, ErrUnknownMessageKind):
		return ""
	default:
		return err.Error()
	}
}
