package progress

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ErrInterrupted is returned by WatchDrain when the connection closes with
// data still buffered.
var ErrInterrupted = errors.New("connection closed before the send buffer drained")

const pollInterval = 50 * time.Millisecond

// Drainer is a connection whose send buffer can be watched.
type Drainer interface {
	BufferedAmount() uint64
	Done() <-chan struct{}
}

// NewBar returns a byte-count bar on w. It is hidden when w is not a
// terminal.
func NewBar(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetVisibility(IsTTY(w)),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)
}

// WatchDrain polls d until its send buffer is empty, moving bar to the
// number of bytes of total already handed to the network. bar may be nil.
// The returned stats cover the whole drain.
func WatchDrain(ctx context.Context, d Drainer, total int64, bar *progressbar.ProgressBar) (Stats, error) {
	meter := NewMeter(time.Now)
	meter.Start(total)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		buffered := int64(d.BufferedAmount())
		sent := total - buffered
		if sent < 0 {
			sent = 0
		}
		meter.Set(sent)
		if bar != nil {
			_ = bar.Set64(sent)
		}
		if buffered == 0 {
			if bar != nil {
				_ = bar.Finish()
			}
			return meter.Snapshot(), nil
		}

		select {
		case <-ctx.Done():
			return meter.Snapshot(), ctx.Err()
		case <-d.Done():
			if d.BufferedAmount() == 0 {
				continue
			}
			return meter.Snapshot(), ErrInterrupted
		case <-ticker.C:
		}
	}
}
