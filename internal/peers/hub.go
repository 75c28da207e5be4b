package peers

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sheerbytes/turboshare/pkg/protocol"
)

var (
	// ErrIDTaken is returned by Add when a live client holds the id under a different token.
	ErrIDTaken = errors.New("id is taken")
	// ErrLimitReached is returned by Add when the hub is at its concurrent client limit.
	ErrLimitReached = errors.New("concurrent client limit reached")
)

// Client identifies one registered signaling connection.
type Client struct {
	ID     string
	Token  string
	ConnID string // unique per WebSocket connection
}

type clientConn struct {
	client   Client
	send     chan protocol.Envelope
	done     chan struct{}
	closeFn  func()
	lastSeen time.Time
}

// Hub tracks connected clients per realm key and routes envelopes to them.
// A client reconnecting with the same id and token replaces its previous
// connection (last-writer-wins); a different token is rejected.
type Hub struct {
	mu     sync.RWMutex
	realms map[string]map[string]*clientConn // key -> peer id -> connection
	count  int
	limit  int
	now    func() time.Time
}

// NewHub creates a hub. limit <= 0 disables the concurrent client limit.
func NewHub(limit int) *Hub {
	return &Hub{
		realms: make(map[string]map[string]*clientConn),
		limit:  limit,
		now:    time.Now,
	}
}

// Add registers a client under key. send delivers envelopes to the client's
// socket from a dedicated writer goroutine; closeFn tears the socket down when
// the client is replaced or found idle. The returned remove function is safe
// to call more than once and is a no-op after a replacement.
func (h *Hub) Add(key string, c Client, send func(env protocol.Envelope) error, closeFn func()) (remove func(), err error) {
	cc := &clientConn{
		client:  c,
		send:    make(chan protocol.Envelope, 256),
		done:    make(chan struct{}),
		closeFn: closeFn,
	}

	h.mu.Lock()
	realm := h.realms[key]
	if realm == nil {
		realm = make(map[string]*clientConn)
		h.realms[key] = realm
	}

	var replaced *clientConn
	if old, exists := realm[c.ID]; exists {
		if old.client.Token != c.Token {
			h.mu.Unlock()
			return nil, ErrIDTaken
		}
		replaced = old
		delete(realm, c.ID)
		h.count--
	}
	if h.limit > 0 && h.count >= h.limit {
		if replaced != nil {
			realm[c.ID] = replaced
			h.count++
		}
		h.mu.Unlock()
		return nil, ErrLimitReached
	}

	cc.lastSeen = h.now()
	realm[c.ID] = cc
	h.count++
	if replaced != nil {
		close(replaced.send)
	}
	h.mu.Unlock()

	if replaced != nil && replaced.closeFn != nil {
		replaced.closeFn()
	}

	go func() {
		defer close(cc.done)
		for env := range cc.send {
			if err := send(env); err != nil {
				// Drain so queued senders never block on a dead socket.
				for range cc.send {
				}
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(key, cc) })
	}, nil
}

func (h *Hub) remove(key string, cc *clientConn) {
	h.mu.Lock()
	realm := h.realms[key]
	if realm == nil || realm[cc.client.ID] != cc {
		h.mu.Unlock()
		return
	}
	delete(realm, cc.client.ID)
	h.count--
	if len(realm) == 0 {
		delete(h.realms, key)
	}
	close(cc.send)
	h.mu.Unlock()

	select {
	case <-cc.done:
	case <-time.After(time.Second):
	}
}

// Touch records activity for a client.
func (h *Hub) Touch(key, id string) {
	h.mu.Lock()
	if cc := h.realms[key][id]; cc != nil {
		cc.lastSeen = h.now()
	}
	h.mu.Unlock()
}

// Has reports whether id is connected under key.
func (h *Hub) Has(key, id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.realms[key][id]
	return ok
}

// IDs returns the connected ids under key, sorted.
func (h *Hub) IDs(key string) []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.realms[key]))
	for id := range h.realms[key] {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Count returns the number of connected clients across all realms.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// SendTo queues env for the client id under key.
// Returns false if the client is not connected. A full queue drops the envelope.
func (h *Hub) SendTo(key, id string, env protocol.Envelope) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cc, ok := h.realms[key][id]
	if !ok {
		return false
	}
	select {
	case cc.send <- env:
	default:
	}
	return true
}

// CloseIdle closes every client whose last activity is older than timeout.
// Their read loops then end and run their remove functions.
func (h *Hub) CloseIdle(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	cutoff := h.now().Add(-timeout)

	var idle []*clientConn
	h.mu.RLock()
	for _, realm := range h.realms {
		for _, cc := range realm {
			if cc.lastSeen.Before(cutoff) {
				idle = append(idle, cc)
			}
		}
	}
	h.mu.RUnlock()

	for _, cc := range idle {
		if cc.closeFn != nil {
			cc.closeFn()
		}
	}
	return len(idle)
}
