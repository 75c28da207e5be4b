package peer

import (
	"errors"
	"fmt"

	"github.com/sheerbytes/turboshare/pkg/protocol"
)

// Select sets the pending file used by Send(nil).
func (s *Session) Select(f *File) {
	s.mu.Lock()
	s.pending = f
	s.mu.Unlock()
}

// Pending returns the pending file, or nil.
func (s *Session) Pending() *File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// Send writes f to the open connection as one message. A nil f sends the
// pending selection. Success means the transport accepted the message; the
// pending selection is then cleared.
func (s *Session) Send(f *File) error {
	var err error
	if !s.do(func() { err = s.send(f) }) {
		return ErrNoActiveConnection
	}
	return err
}

func (s *Session) send(f *File) error {
	c := s.Connection()
	if c == nil || c.Status() != ConnOpen {
		return ErrNoActiveConnection
	}
	if f == nil {
		f = s.Pending()
	}
	if f == nil {
		return ErrNoFileSelected
	}

	frame, err := protocol.EncodeFileMessage(protocol.NewFileMessage(f.Name, f.MimeType, f.Data))
	if err != nil {
		return fmt.Errorf("encode file: %w", err)
	}
	if err := c.ch.Send(frame); err != nil {
		return fmt.Errorf("send file: %w", err)
	}

	s.Select(nil)
	s.logger.Info("file sent", "name", f.Name, "size", len(f.Data), "remote_id", c.remoteID)
	s.notify("You shared " + f.Name)
	return nil
}

// onReceive decodes one frame and hands a file to storage off the session
// goroutine.
func (s *Session) onReceive(raw []byte) {
	msg, err := protocol.DecodeFrame(raw)
	if err != nil {
		if errors.Is(err, ErrUnknownMessageKind) {
			s.logger.Debug("ignoring message", "error", err)
			return
		}
		s.logger.Warn("dropping malformed message", "error", err, "bytes", len(raw))
		return
	}
	if !msg.SizeMatches() {
		s.logger.Warn("received file size mismatch", "name", msg.Name, "size", msg.Size, "payload", len(msg.Payload))
	}
	s.logger.Info("file received", "name", msg.Name, "size", len(msg.Payload), "mime_type", msg.MimeType)

	if s.cfg.Storage == nil {
		s.notify("New file: " + msg.Name)
		return
	}
	s.saves.Add(1)
	go func() {
		defer s.saves.Done()
		if err := s.cfg.Storage.Save(s.saveCtx, msg.Payload, msg.Name); err != nil {
			s.logger.Error("save received file", "name", msg.Name, "error", err)
			return
		}
		s.notify("New file: " + msg.Name)
	}()
}
