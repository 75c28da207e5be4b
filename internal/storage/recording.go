package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Recording stores files in a Dir and adds a ledger row for each one.
type Recording struct {
	dir    *Dir
	ledger *Ledger
	logger *slog.Logger
}

// NewRecording returns a Recording. A nil ledger only stores files.
func NewRecording(dir *Dir, ledger *Ledger, logger *slog.Logger) *Recording {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recording{dir: dir, ledger: ledger, logger: logger}
}

// Save stores payload, then records it. A ledger failure is logged and does
// not fail the save: the file is already on disk.
func (r *Recording) Save(ctx context.Context, payload []byte, name string) error {
	path, err := r.dir.Store(ctx, payload, name)
	if err != nil {
		return err
	}
	r.logger.Info("file saved", "name", name, "path", path, "bytes", len(payload))
	if r.ledger == nil {
		return nil
	}

	sum := sha256.Sum256(payload)
	_, err = r.ledger.Record(ctx, ReceivedFile{
		Name:   name,
		Path:   path,
		Size:   int64(len(payload)),
		SHA256: hex.EncodeToString(sum[:]),
	})
	if err != nil {
		r.logger.Warn("ledger record failed", "name", name, "error", err)
	}
	return nil
}
