package transport

import (
	"sync"

	"github.com/roach88/coedit/internal/document"
	"github.com/roach88/coedit/internal/session"
)

// client is the server side of one connection.
//
// A client is added to its hub before it joins the session, so no
// broadcast can fall between the join snapshot and the first delivery.
// Until the snapshot is sent, versioned messages are parked in pending and
// presence events in held. Afterwards, versioned messages are released
// strictly in version order starting at the snapshot version + 1; anything
// at or below the snapshot version is dropped.
//
// Lock order: hub.mu, then client.mu, then session locks.
type client struct {
	id            string
	participantID string
	send          chan ServerMessage

	kicked   chan struct{}
	kickOnce sync.Once

	mu      sync.Mutex // protects the fields below
	ready   bool
	next    int
	pending map[int]ServerMessage
	held    []ServerMessage
}

func newClient(id, participantID string, buffer int) *client {
	return &client{
		id:            id,
		participantID: participantID,
		send:          make(chan ServerMessage, buffer),
		kicked:        make(chan struct{}),
		pending:       make(map[int]ServerMessage),
	}
}

// start runs join under the client lock and sends its snapshot first.
func (c *client) start(join func() (session.JoinSnapshot, error)) (session.JoinSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := join()
	if err != nil {
		return session.JoinSnapshot{}, err
	}

	self := snap.Self
	c.pushLocked(ServerMessage{
		Type:         TypeSnapshot,
		SessionID:    snap.SessionID,
		DocumentID:   snap.DocumentID,
		Content:      snap.Content,
		Version:      snap.Version,
		Self:         &self,
		Participants: snap.Participants,
	})
	c.ready = true
	c.rebaseLocked(snap.Version)

	for _, msg := range c.held {
		c.pushLocked(msg)
	}
	c.held = nil
	return snap, nil
}

// resync replaces the client's view with a fresh snapshot taken under the
// client lock, so every later broadcast is newer than it.
func (c *client) resync(snapshot func() (document.Snapshot, error), code, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := snapshot()
	if err != nil {
		return err
	}
	c.pushLocked(ServerMessage{
		Type:       TypeResync,
		DocumentID: snap.DocumentID,
		Content:    snap.Content,
		Version:    snap.Version,
		Code:       code,
		Message:    message,
	})
	c.rebaseLocked(snap.Version)
	return nil
}

// deliver queues a message that carries document version v.
func (c *client) deliver(v int, msg ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready && v < c.next {
		return
	}
	c.pending[v] = msg
	if c.ready {
		c.flushLocked()
	}
}

// notify queues an unversioned message.
func (c *client) notify(msg ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		c.held = append(c.held, msg)
		return
	}
	c.pushLocked(msg)
}

// kick asks the writer to close the connection.
func (c *client) kick() {
	c.kickOnce.Do(func() { close(c.kicked) })
}

func (c *client) rebaseLocked(version int) {
	if version+1 > c.next {
		c.next = version + 1
	}
	for v := range c.pending {
		if v < c.next {
			delete(c.pending, v)
		}
	}
	c.flushLocked()
}

func (c *client) flushLocked() {
	for {
		msg, ok := c.pending[c.next]
		if !ok {
			return
		}
		delete(c.pending, c.next)
		c.pushLocked(msg)
		c.next++
	}
}

// pushLocked hands msg to the writer. A client that cannot keep up is
// kicked rather than allowed to block its hub.
func (c *client) pushLocked(msg ServerMessage) {
	select {
	case c.send <- msg:
	default:
		c.kick()
	}
}
