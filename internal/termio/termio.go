// Package termio queues terminal output behind one writer goroutine per
// stream so session goroutines never block on a slow terminal.
package termio

import (
	"io"
	"os"
	"sync"
	"time"
)

const queueSize = 1024

type item struct {
	data    []byte
	flushed chan struct{}
}

// Writer copies each Write into a queue drained by a background goroutine.
type Writer struct {
	w  io.Writer
	ch chan item
}

// NewWriter starts the goroutine writing to w.
func NewWriter(w io.Writer) *Writer {
	qw := &Writer{w: w, ch: make(chan item, queueSize)}
	go qw.run()
	return qw
}

func (w *Writer) run() {
	for it := range w.ch {
		if it.flushed != nil {
			close(it.flushed)
			continue
		}
		_, _ = w.w.Write(it.data)
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	w.ch <- item{data: buf}
	return len(p), nil
}

// Flush waits until everything written so far reached the underlying
// writer, or timeout passes. It reports whether the queue drained.
func (w *Writer) Flush(timeout time.Duration) bool {
	flushed := make(chan struct{})
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case w.ch <- item{flushed: flushed}:
	case <-timer.C:
		return false
	}
	select {
	case <-flushed:
		return true
	case <-timer.C:
		return false
	}
}

// File returns the underlying file, or nil if w does not write to one.
func (w *Writer) File() *os.File {
	f, _ := w.w.(*os.File)
	return f
}

type manager struct {
	once   sync.Once
	stdout *Writer
	stderr *Writer
}

var global manager

func initGlobal() {
	global.once.Do(func() {
		global.stdout = NewWriter(os.Stdout)
		global.stderr = NewWriter(os.Stderr)
	})
}

func Stdout() *Writer {
	initGlobal()
	return global.stdout
}

func Stderr() *Writer {
	initGlobal()
	return global.stderr
}

// Flush drains both standard streams before the process exits.
func Flush() {
	initGlobal()
	global.stdout.Flush(time.Second)
	global.stderr.Flush(time.Second)
}
