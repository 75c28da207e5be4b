package webrtc

import "errors"

const (
	// chunkSize keeps every data channel message under the SCTP message
	// size all implementations accept.
	chunkSize        = 16 * 1024
	maxReceiveBuffer = 8 * 1024 * 1024

	flagMore  byte = 0
	flagFinal byte = 1
)

var errBadChunk = errors.New("invalid chunk")

// splitMessage cuts one message into data channel chunks. Each chunk starts
// with a flag byte; the last one is flagFinal.
func splitMessage(data []byte, size int) [][]byte {
	if size <= 0 {
		size = chunkSize
	}
	var chunks [][]byte
	for {
		n := len(data)
		flag := flagFinal
		if n > size {
			n = size
			flag = flagMore
		}
		chunk := make([]byte, 1+n)
		chunk[0] = flag
		copy(chunk[1:], data[:n])
		chunks = append(chunks, chunk)
		data = data[n:]
		if flag == flagFinal {
			return chunks
		}
	}
}

// assembler joins chunks back into messages.
type assembler struct {
	buf []byte
}

// add consumes one chunk. It returns the message once the final chunk arrives.
func (a *assembler) add(chunk []byte) ([]byte, bool, error) {
	if len(chunk) == 0 {
		return nil, false, errBadChunk
	}
	switch chunk[0] {
	case flagMore:
		a.buf = append(a.buf, chunk[1:]...)
		return nil, false, nil
	case flagFinal:
		msg := append(a.buf, chunk[1:]...)
		a.buf = nil
		if msg == nil {
			msg = []byte{}
		}
		return msg, true, nil
	default:
		a.buf = nil
		return nil, false, errBadChunk
	}
}
