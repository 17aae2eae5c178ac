package transport

import (
	"sync"

	"github.com/roach88/coedit/internal/session"
)

// hub fans messages out to the clients of one session incarnation.
type hub struct {
	mu      sync.Mutex // protects clients
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

// hasParticipant reports whether a connected client already speaks for
// participantID.
func (h *hub) hasParticipant(participantID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if c.participantID == participantID {
			return true
		}
	}
	return false
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// remove drops c and reports how many clients remain.
func (h *hub) remove(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	return len(h.clients)
}

// broadcastOp sends an accepted operation to every client: an ack to its
// author and an op to everyone else.
func (h *hub) broadcastOp(author *client, res session.SubmitResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	op := res.Operation
	for c := range h.clients {
		msgType := TypeOp
		if c == author {
			msgType = TypeAck
		}
		c.deliver(res.Version, ServerMessage{Type: msgType, Version: res.Version, Operation: &op})
	}
}

// broadcastPresence sends a presence event to every client except from.
func (h *hub) broadcastPresence(from *client, event string, p session.Presence, version int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if c == from {
			continue
		}
		c.notify(ServerMessage{Type: TypePresence, Event: event, Presence: &p, Version: version})
	}
}

// kickAll closes every connection.
func (h *hub) kickAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.kick()
	}
}
