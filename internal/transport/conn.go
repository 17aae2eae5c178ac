package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/roach88/coedit/internal/document"
	"github.com/roach88/coedit/internal/session"
)

// joinAttempts bounds retries when the session is removed between lookup
// and join.
const joinAttempts = 3

// connection is one live WebSocket editing connection.
type connection struct {
	server  *Server
	ws      *websocket.Conn
	client  *client
	sess    *session.Session
	hub     *hub
	limiter *rate.Limiter
	logger  *slog.Logger
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]
	query := r.URL.Query()
	documentID := query.Get("document")
	participantID := query.Get("participant")
	if participantID == "" {
		participantID = s.ids.Generate()
	}
	username := query.Get("username")
	if username == "" {
		username = participantID
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session", sessionID, "error", err)
		return
	}
	defer ws.Close()

	c := newClient(s.ids.Generate(), participantID, s.cfg.SendBuffer)
	logger := s.logger.With("session", sessionID, "participant", participantID, "conn", c.id)

	sess, h, snap, err := s.attach(sessionID, documentID, c, username)
	if err != nil {
		logger.Info("connection refused", "error", err)
		code := session.Reason(err)
		switch {
		case errors.Is(err, errDuplicateParticipant):
			code = CodeDuplicateParticipant
		case errors.Is(err, errServerClosed), errors.Is(err, session.ErrRegistryClosed):
			code = CodeUnavailable
		}
		ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := ws.WriteJSON(errorMessage(code, err)); err == nil {
			s.observer.Message(Outbound, TypeError)
		}
		return
	}

	s.observer.ConnectionOpened()
	defer s.observer.ConnectionClosed()
	logger.Info("client connected", "version", snap.Version, "participants", len(snap.Participants)+1)

	conn := &connection{
		server:  s,
		ws:      ws,
		client:  c,
		sess:    sess,
		hub:     h,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.OpsPerSecond), s.cfg.Burst),
		logger:  logger,
	}
	h.broadcastPresence(c, EventJoined, snap.Self, snap.Version)

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writeLoop(done)
	}()

	conn.readLoop()
	close(done)
	<-writerDone
	conn.detach()
}

// attach registers c with the session's hub and joins the session,
// retrying when the looked-up session was removed in between.
func (s *Server) attach(sessionID, documentID string, c *client, username string) (*session.Session, *hub, session.JoinSnapshot, error) {
	var lastErr error
	for attempt := 0; attempt < joinAttempts; attempt++ {
		sess, err := s.registry.GetOrCreate(sessionID, documentID)
		if err != nil {
			return nil, nil, session.JoinSnapshot{}, err
		}
		incarnation := sess.Ref().Incarnation

		h, err := s.attachHub(incarnation, c)
		if err != nil {
			return nil, nil, session.JoinSnapshot{}, err
		}

		snap, err := c.start(func() (session.JoinSnapshot, error) {
			return sess.Join(c.participantID, username)
		})
		if err == nil {
			return sess, h, snap, nil
		}
		s.detachHub(incarnation, c)
		if !errors.Is(err, session.ErrUnknownSession) {
			return nil, nil, session.JoinSnapshot{}, err
		}
		lastErr = err
	}
	return nil, nil, session.JoinSnapshot{}, lastErr
}

// detach leaves the session and tells everyone else. Empty sessions are
// left for the reaper.
func (conn *connection) detach() {
	conn.server.detachHub(conn.sess.Ref().Incarnation, conn.client)
	if !conn.sess.Leave(conn.client.participantID) {
		return
	}
	version := 0
	if snap, err := conn.sess.Snapshot(); err == nil {
		version = snap.Version
	}
	conn.hub.broadcastPresence(conn.client, EventLeft, session.Presence{ParticipantID: conn.client.participantID}, version)
	conn.logger.Info("client disconnected")
}

func (conn *connection) pongWait() time.Duration {
	return 2 * conn.server.cfg.PingInterval
}

func (conn *connection) readLoop() {
	conn.ws.SetReadLimit(conn.server.cfg.MaxMessageBytes)
	conn.ws.SetReadDeadline(time.Now().Add(conn.pongWait()))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(conn.pongWait()))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				conn.logger.Warn("read failed", "error", err)
			}
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(conn.pongWait()))

		msg, err := DecodeClientMessage(data)
		if err != nil {
			conn.server.observer.Message(Inbound, "invalid")
			conn.logger.Warn("invalid message", "error", err)
			conn.client.notify(errorMessage(session.Reason(err), err))
			continue
		}
		conn.server.observer.Message(Inbound, msg.Type)

		if !conn.handle(msg) {
			return
		}
	}
}

// handle processes one message and reports whether the connection stays
// open.
func (conn *connection) handle(msg ClientMessage) bool {
	switch msg.Type {
	case TypeOp:
		if !conn.limiter.Allow() {
			conn.client.notify(errorMessage(CodeRateLimited, fmt.Errorf("more than %g operations per second", conn.server.cfg.OpsPerSecond)))
			return true
		}
		return conn.submit(msg)

	case TypeCursor:
		p, err := conn.sess.UpdateCursor(conn.client.participantID, msg.Position)
		if err != nil {
			conn.client.notify(errorMessage(session.Reason(err), err))
			return !errors.Is(err, session.ErrUnknownSession)
		}
		conn.hub.broadcastPresence(conn.client, EventCursor, p, p.LastSeenVersion)
		return true

	case TypeLeave:
		return false
	}
	return true
}

func (conn *connection) submit(msg ClientMessage) bool {
	op, err := msg.Operation(conn.client.participantID)
	if err == nil {
		var res session.SubmitResult
		if res, err = conn.sess.Submit(op); err == nil {
			conn.hub.broadcastOp(conn.client, res)
			return true
		}
	}

	var rejected *session.RejectedError
	if errors.As(err, &rejected) {
		conn.logger.Error("operation rejected, resyncing client", "op", op.String(), "error", err)
		snapshot := func() (document.Snapshot, error) { return conn.sess.Snapshot() }
		if err := conn.client.resync(snapshot, session.Reason(rejected), rejected.Error()); err != nil {
			return false
		}
		return true
	}

	conn.logger.Warn("operation rejected", "op", op.String(), "base_version", op.BaseVersion, "error", err)
	conn.client.notify(errorMessage(session.Reason(err), err))
	return !errors.Is(err, session.ErrUnknownSession)
}

func (conn *connection) writeLoop(done <-chan struct{}) {
	ticker := time.NewTicker(conn.server.cfg.PingInterval)
	defer ticker.Stop()
	// Unblocks the reader when the writer gives up.
	defer conn.ws.Close()

	timeout := conn.server.cfg.WriteTimeout
	for {
		select {
		case msg := <-conn.client.send:
			conn.ws.SetWriteDeadline(time.Now().Add(timeout))
			if err := conn.ws.WriteJSON(msg); err != nil {
				conn.logger.Warn("write failed", "error", err)
				return
			}
			conn.server.observer.Message(Outbound, msg.Type)

		case <-ticker.C:
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
				conn.logger.Warn("ping failed", "error", err)
				return
			}

		case <-conn.client.kicked:
			conn.logger.Warn("closing connection", "reason", "kicked")
			closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "disconnected by server")
			conn.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(timeout))
			return

		case <-done:
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(timeout))
			return
		}
	}
}
