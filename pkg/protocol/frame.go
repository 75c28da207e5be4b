package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// KindFile is the discriminator of a whole-file frame.
const KindFile = "file"

var (
	// ErrUnknownMessageKind is returned for well-formed frames of a kind this
	// version does not understand. Receivers drop such frames.
	ErrUnknownMessageKind = errors.New("unknown message kind")
	// ErrMalformedFrame is returned when a data channel message is not a frame at all.
	ErrMalformedFrame = errors.New("malformed frame")
)

// FileMessage is the only frame on the data channel: a complete file in one message.
type FileMessage struct {
	Kind     string `msgpack:"kind"`
	Payload  []byte `msgpack:"payload"`
	Name     string `msgpack:"name"`
	Size     int64  `msgpack:"size"`
	MimeType string `msgpack:"mimeType"`
}

// NewFileMessage builds a file frame. Size is taken from the payload.
func NewFileMessage(name, mimeType string, payload []byte) FileMessage {
	return FileMessage{
		Kind:     KindFile,
		Payload:  payload,
		Name:     name,
		Size:     int64(len(payload)),
		MimeType: mimeType,
	}
}

// SizeMatches reports whether the declared size equals the payload length.
func (m FileMessage) SizeMatches() bool {
	return m.Size == int64(len(m.Payload))
}

// EncodeFileMessage serializes a file frame.
func EncodeFileMessage(m FileMessage) ([]byte, error) {
	if m.Kind == "" {
		m.Kind = KindFile
	}
	b, err := msgpack.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("encode file message: %w", err)
	}
	return b, nil
}

// DecodeFrame parses a data channel message.
func DecodeFrame(data []byte) (FileMessage, error) {
	var m FileMessage
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return FileMessage{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if m.Kind != KindFile {
		return FileMessage{}, fmt.Errorf("%w: %q", ErrUnknownMessageKind, m.Kind)
	}
	return m, nil
}
