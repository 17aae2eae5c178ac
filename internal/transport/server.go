package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/roach88/coedit/internal/config"
	"github.com/roach88/coedit/internal/ot"
	"github.com/roach88/coedit/internal/session"
)

// Message directions passed to Observer.Message.
const (
	Inbound  = "in"
	Outbound = "out"
)

// Observer counts connections and messages. *metrics.Metrics implements it.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	Message(direction, msgType string)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()      {}
func (nopObserver) ConnectionClosed()      {}
func (nopObserver) Message(string, string) {}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithObserver sets the connection and message observer.
func WithObserver(o Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithIDGenerator sets the id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Server) { s.ids = g }
}

// WithConfig sets connection limits. Default: config.Default().Transport.
func WithConfig(cfg config.TransportConfig) Option {
	return func(s *Server) { s.cfg = cfg }
}

// Server exposes a session registry over WebSocket and HTTP.
//
// Thread-safety: all methods are safe for concurrent use.
type Server struct {
	registry       *session.Registry
	cfg            config.TransportConfig
	logger         *slog.Logger
	observer       Observer
	metricsHandler http.Handler
	ids            IDGenerator
	upgrader       websocket.Upgrader

	mu     sync.Mutex // protects hubs and closed
	hubs   map[uint64]*hub
	closed bool
}

// NewServer creates a server over registry.
func NewServer(registry *session.Registry, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		cfg:      config.Default().Transport,
		logger:   slog.Default(),
		observer: nopObserver{},
		ids:      UUIDv7Generator{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hubs: make(map[uint64]*hub),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes:
//
//	GET /sessions/{sessionID}/ws          WebSocket editing connection
//	GET /sessions/{sessionID}             session state
//	GET /sessions/{sessionID}/operations  history, ?since=N
//	GET /healthz                          liveness
//	GET /metrics                          when a metrics handler is set
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/sessions/{sessionID}/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{sessionID}/operations", s.handleOperations).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{sessionID}", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler).Methods(http.MethodGet)
	}
	return r
}

// Close disconnects every client. New connections are refused afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, h := range s.hubs {
		h.kickAll()
	}
}

// attachHub adds c to the hub of the given session incarnation. It fails
// if the participant is already connected there.
func (s *Server) attachHub(incarnation uint64, c *client) (*hub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errServerClosed
	}
	h, ok := s.hubs[incarnation]
	if !ok {
		h = newHub()
		s.hubs[incarnation] = h
	}
	if h.hasParticipant(c.participantID) {
		return nil, errDuplicateParticipant
	}
	h.add(c)
	return h, nil
}

func (s *Server) detachHub(incarnation uint64, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hubs[incarnation]
	if !ok {
		return
	}
	if h.remove(c) == 0 {
		delete(s.hubs, incarnation)
	}
}

// hubCount returns the number of live hubs. Used by tests.
func (s *Server) hubCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hubs)
}

var (
	errServerClosed         = errors.New("server is shutting down")
	errDuplicateParticipant = errors.New("participant already connected")
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type operationsBody struct {
	SessionID  string         `json:"session_id"`
	Since      int            `json:"since"`
	Operations []ot.Operation `json:"operations"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	state, err := sess.State()
	if err != nil {
		writeError(w, http.StatusNotFound, session.Reason(err), err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_since", fmt.Errorf("since must be a non-negative integer, got %q", raw))
			return
		}
		since = n
	}

	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ops, err := sess.OperationsSince(since)
	if err != nil {
		writeError(w, http.StatusNotFound, session.Reason(err), err)
		return
	}
	if ops == nil {
		ops = []ot.Operation{}
	}
	writeJSON(w, http.StatusOK, operationsBody{SessionID: sess.ID(), Since: since, Operations: ops})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.registry.Len()})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.registry.Get(mux.Vars(r)["sessionID"])
	if err != nil {
		writeError(w, http.StatusNotFound, session.Reason(err), err)
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}
