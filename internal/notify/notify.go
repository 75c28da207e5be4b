// Package notify delivers session notifications to the terminal and the log.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sheerbytes/turboshare/internal/peer"
)

// Log writes each notification as an info record.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(n peer.Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "text", n.Text, "duration", n.Duration)
}

// Printer writes each notification as one line.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Notify(n peer.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, n.Text)
}

// Multi fans a notification out to several notifiers in order.
type Multi []peer.Notifier

func (m Multi) Notify(n peer.Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}

// Func adapts a function to peer.Notifier.
type Func func(peer.Notification)

func (f Func) Notify(n peer.Notification) {
	f(n)
}
