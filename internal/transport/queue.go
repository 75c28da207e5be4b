package transport

import "sync"

// Queue is an ordered event queue whose Push never blocks. A channel
// implementation pushes from network callbacks and hands Events to the
// consumer. Nothing is accepted after an EventClose.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	wake   chan struct{}
	out    chan Event
}

// NewQueue starts the delivery goroutine. It exits after delivering EventClose.
func NewQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
	}
	go q.run()
	return q
}

// Events returns the consumer side.
func (q *Queue) Events() <-chan Event {
	return q.out
}

// Push appends ev. It reports false if the queue already holds EventClose.
func (q *Queue) Push(ev Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	if ev.Kind == EventClose {
		q.closed = true
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Closed reports whether EventClose has been pushed.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) run() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			<-q.wake
			continue
		}
		ev := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		q.out <- ev
		if ev.Kind == EventClose {
			return
		}
	}
}
