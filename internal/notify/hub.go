package notify

import (
	"errors"
	"log"
	"sync"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Event is the envelope written to subscribers.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"data"`
}

// Conn is a live transport handle for one actor. Send must not block.
type Conn interface {
	Send(event Event) error
	Close() error
}

type Target struct {
	actorID   int64
	broadcast bool
}

func Broadcast() Target {
	return Target{broadcast: true}
}

func ToActor(actorID int64) Target {
	return Target{actorID: actorID}
}

// Hub is the process-wide actor → connection registry. Each actor holds at
// most one connection; a new registration replaces and closes the old one.
type Hub struct {
	mu    sync.RWMutex
	conns map[int64]Conn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[int64]Conn)}
}

func (h *Hub) Register(actorID int64, conn Conn) {
	h.mu.Lock()
	previous, ok := h.conns[actorID]
	h.conns[actorID] = conn
	h.mu.Unlock()

	if ok && previous != conn {
		_ = previous.Close()
	}
}

// Deregister removes conn only while it is still the registered handle for
// actorID, so a stale disconnect cannot evict a newer session.
func (h *Hub) Deregister(actorID int64, conn Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.conns[actorID]
	if !ok || current != conn {
		return false
	}
	delete(h.conns, actorID)
	return true
}

func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish delivers at most once to the target and returns how many
// connections accepted the event. Failures are logged and dropped.
func (h *Hub) Publish(event string, payload any, target Target) int {
	type recipient struct {
		actorID int64
		conn    Conn
	}

	h.mu.RLock()
	recipients := make([]recipient, 0, len(h.conns))
	if target.broadcast {
		for actorID, conn := range h.conns {
			recipients = append(recipients, recipient{actorID: actorID, conn: conn})
		}
	} else if conn, ok := h.conns[target.actorID]; ok {
		recipients = append(recipients, recipient{actorID: target.actorID, conn: conn})
	}
	h.mu.RUnlock()

	envelope := Event{Name: event, Payload: payload}
	delivered := 0
	for _, r := range recipients {
		if err := r.conn.Send(envelope); err != nil {
			log.Printf("[notify] WARN: drop %s for actor %d: %v", event, r.actorID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Close disconnects every registered connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[int64]Conn)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
