package progress

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDrainer struct {
	buffered atomic.Uint64
	done     chan struct{}
}

func newFakeDrainer(n uint64) *fakeDrainer {
	d := &fakeDrainer{done: make(chan struct{})}
	d.buffered.Store(n)
	return d
}

func (d *fakeDrainer) BufferedAmount() uint64 { return d.buffered.Load() }
func (d *fakeDrainer) Done() <-chan struct{}   { return d.done }

func TestWatchDrain_Completes(t *testing.T) {
	d := newFakeDrainer(1000)
	go func() {
		for _, left := range []uint64{600, 200, 0} {
			time.Sleep(20 * time.Millisecond)
			d.buffered.Store(left)
		}
	}()

	var out bytes.Buffer
	bar := NewBar(&out, 1000, "sending")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := WatchDrain(ctx, d, 1000, bar)
	if err != nil {
		t.Fatalf("WatchDrain() error = %v", err)
	}
	if stats.BytesDone != 1000 || stats.Percent != 100 {
		t.Errorf("stats = %+v, want all bytes done", stats)
	}
}

func TestWatchDrain_AlreadyEmpty(t *testing.T) {
	stats, err := WatchDrain(context.Background(), newFakeDrainer(0), 0, nil)
	if err != nil {
		t.Fatalf("WatchDrain() error = %v", err)
	}
	if stats.BytesDone != 0 {
		t.Errorf("BytesDone = %d, want 0", stats.BytesDone)
	}
}

func TestWatchDrain_Interrupted(t *testing.T) {
	d := newFakeDrainer(500)
	close(d.done)
	if _, err := WatchDrain(context.Background(), d, 1000, nil); !errors.Is(err, ErrInterrupted) {
		t.Errorf("WatchDrain() error = %v, want ErrInterrupted", err)
	}
}

func TestWatchDrain_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WatchDrain(ctx, newFakeDrainer(10), 10, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("WatchDrain() error = %v, want context.Canceled", err)
	}
}
