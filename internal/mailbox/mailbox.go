package mailbox

import (
	"sync"
	"time"

	"github.com/sheerbytes/turboshare/pkg/protocol"
)

// maxPerTarget bounds the queue for a single absent peer.
const maxPerTarget = 256

// Message is an envelope waiting for its target to connect.
type Message struct {
	Key      string
	Env      protocol.Envelope
	QueuedAt time.Time
}

type target struct {
	key string
	id  string
}

// Store is a thread-safe in-memory queue of relayed envelopes addressed to
// peers that are not connected yet. Entries older than the TTL are expired.
type Store struct {
	mu     sync.Mutex
	queues map[target][]Message
	ttl    time.Duration
}

// NewStore creates a store whose messages expire after ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		queues: make(map[target][]Message),
		ttl:    ttl,
	}
}

// Put queues env for env.To under key. Returns false if the target's queue is full.
func (s *Store) Put(key string, env protocol.Envelope, now time.Time) bool {
	t := target{key: key, id: env.To}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queues[t]) >= maxPerTarget {
		return false
	}
	s.queues[t] = append(s.queues[t], Message{Key: key, Env: env, QueuedAt: now})
	return true
}

// Drain removes and returns every queued envelope for id under key, oldest first.
func (s *Store) Drain(key, id string) []protocol.Envelope {
	t := target{key: key, id: id}

	s.mu.Lock()
	msgs := s.queues[t]
	delete(s.queues, t)
	s.mu.Unlock()

	envs := make([]protocol.Envelope, 0, len(msgs))
	for _, m := range msgs {
		envs = append(envs, m.Env)
	}
	return envs
}

// CleanupExpired removes and returns every message queued longer than the TTL.
func (s *Store) CleanupExpired(now time.Time) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Message
	for t, msgs := range s.queues {
		keep := msgs[:0]
		for _, m := range msgs {
			if now.Sub(m.QueuedAt) >= s.ttl {
				expired = append(expired, m)
			} else {
				keep = append(keep, m)
			}
		}
		if len(keep) == 0 {
			delete(s.queues, t)
		} else {
			s.queues[t] = keep
		}
	}
	return expired
}

// DropRoute discards every message from one peer to another under key.
// Returns the number of messages dropped.
func (s *Store) DropRoute(key, from, to string) int {
	t := target{key: key, id: to}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.queues[t]
	keep := msgs[:0]
	for _, m := range msgs {
		if m.Env.From != from {
			keep = append(keep, m)
		}
	}
	dropped := len(msgs) - len(keep)
	if len(keep) == 0 {
		delete(s.queues, t)
	} else {
		s.queues[t] = keep
	}
	return dropped
}

// Len returns the total number of queued messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msgs := range s.queues {
		n += len(msgs)
	}
	return n
}
