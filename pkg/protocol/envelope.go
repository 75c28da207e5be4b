package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const ProtocolVersion = 1

// ServerID is the From value of envelopes generated by the signaling server.
const ServerID = "server"

// Envelope wraps every signaling message exchanged with the server.
// SessionID carries the realm key the sender is registered under.
type Envelope struct {
	V         int             `json:"v"`
	Type      string          `json:"type"`
	MsgID     string          `json:"msg_id"`
	SessionID string          `json:"session_id,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope creates an envelope of the given type with a JSON-encoded payload.
func NewEnvelope(msgType, msgID string, payload any) (Envelope, error) {
	var rawPayload json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal payload: %w", err)
		}
		rawPayload = b
	}

	return Envelope{
		V:       ProtocolVersion,
		Type:    msgType,
		MsgID:   msgID,
		Payload: rawPayload,
	}, nil
}

// Directed is NewEnvelope with a fresh message id and the route already set.
func Directed(msgType, from, to string, payload any) (Envelope, error) {
	env, err := NewEnvelope(msgType, NewMsgID(), payload)
	if err != nil {
		return Envelope{}, err
	}
	env.From = from
	env.To = to
	return env, nil
}

// DecodePayload unmarshals the envelope's payload into out.
func (e Envelope) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return errors.New("payload is empty")
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// ValidateBasic checks version, type and message id.
func (e Envelope) ValidateBasic() error {
	if e.V != ProtocolVersion {
		return fmt.Errorf("invalid protocol version: got %d, expected %d", e.V, ProtocolVersion)
	}
	if e.Type == "" {
		return errors.New("type is required")
	}
	if e.MsgID == "" {
		return errors.New("msg_id is required")
	}
	return nil
}

// IsRelayed reports whether the envelope type is forwarded peer to peer by the server.
func (e Envelope) IsRelayed() bool {
	switch e.Type {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeLeave, TypeExpire:
		return true
	}
	return false
}

// NewMsgID returns a random 32-character hex message id.
func NewMsgID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
