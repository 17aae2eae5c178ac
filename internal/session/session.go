package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/coedit/internal/document"
	"github.com/roach88/coedit/internal/ot"
)

// Presence is the live metadata of one attached participant.
type Presence struct {
	ParticipantID   string    `json:"participant_id"`
	Username        string    `json:"username"`
	CursorPosition  int       `json:"cursor_position"`
	LastSeenVersion int       `json:"last_seen_version"`
	ConnectedAt     time.Time `json:"connected_at"`
}

// JoinSnapshot is what a newly joined client renders before it is in sync.
type JoinSnapshot struct {
	SessionID    string     `json:"session_id"`
	DocumentID   string     `json:"document_id"`
	Content      string     `json:"content"`
	Version      int        `json:"version"`
	Self         Presence   `json:"self"`
	Participants []Presence `json:"participants"` // everyone else, by id
}

// SubmitResult is the transformed operation to broadcast and the version
// it produced.
type SubmitResult struct {
	Operation ot.Operation `json:"operation"`
	Version   int          `json:"version"`
}

// State is a read-only view of a whole session.
type State struct {
	SessionID    string     `json:"session_id"`
	DocumentID   string     `json:"document_id"`
	Content      string     `json:"content"`
	Version      int        `json:"version"`
	Participants []Presence `json:"participants"`
}

// Option configures a Session or Registry.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	clock       Clock
	recorder    Recorder
	idleTimeout time.Duration
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the wall clock. Default: time.Now.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRecorder sets the activity recorder. Default: NopRecorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithIdleTimeout sets how long an empty session survives before Reap
// removes it. Registry only. Default: DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// DefaultIdleTimeout is how long an empty session is kept around.
const DefaultIdleTimeout = 5 * time.Minute

func buildOptions(opts []Option) options {
	o := options{
		logger:      slog.Default(),
		clock:       systemClock{},
		recorder:    NopRecorder{},
		idleTimeout: DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Session is one collaborative editing session.
//
// Thread-safety: all methods are safe for concurrent use. The session lock
// is the single serialization point for its document and participants.
type Session struct {
	id  string
	ref Ref

	mu           sync.Mutex // protects the fields below
	doc          *document.Document
	participants map[string]*Presence
	emptySince   time.Time // zero while anyone is attached
	closed       bool

	logger   *slog.Logger
	clock    Clock
	recorder Recorder
}

// New creates a session that exclusively owns doc.
func New(id string, doc *document.Document, opts ...Option) *Session {
	o := buildOptions(opts)
	return newSession(id, doc, o)
}

// incarnations numbers every Session created by this process.
var incarnations atomic.Uint64

func newSession(id string, doc *document.Document, o options) *Session {
	return &Session{
		id:           id,
		ref:          Ref{SessionID: id, DocumentID: doc.ID(), Incarnation: incarnations.Add(1)},
		doc:          doc,
		participants: make(map[string]*Presence),
		emptySince:   o.clock.Now(),
		logger:       o.logger.With("session", id),
		clock:        o.clock,
		recorder:     o.recorder,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Ref returns the identity passed to the Recorder.
func (s *Session) Ref() Ref { return s.ref }

// DocumentID returns the identifier of the owned document.
func (s *Session) DocumentID() string { return s.doc.ID() }

// Join attaches a participant and returns the state the client must render
// first. Joining again with the same id refreshes the username and last
// seen version but keeps the original connection time and cursor.
func (s *Session) Join(participantID, username string) (JoinSnapshot, error) {
	if participantID == "" {
		return JoinSnapshot{}, fmt.Errorf("%w: empty participant id", ErrInvalidParticipant)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return JoinSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownSession, s.id)
	}

	p, ok := s.participants[participantID]
	if !ok {
		p = &Presence{ParticipantID: participantID, ConnectedAt: s.clock.Now()}
		s.participants[participantID] = p
	}
	p.Username = username
	p.LastSeenVersion = s.doc.Version()
	s.emptySince = time.Time{}

	s.logger.Info("participant joined",
		"participant", participantID,
		"username", username,
		"version", p.LastSeenVersion,
		"rejoin", ok,
	)

	return JoinSnapshot{
		SessionID:    s.id,
		DocumentID:   s.doc.ID(),
		Content:      s.doc.Content(),
		Version:      s.doc.Version(),
		Self:         *p,
		Participants: s.presenceLocked(participantID),
	}, nil
}

// Leave detaches a participant. It reports whether someone was removed;
// leaving twice, leaving without joining, or leaving a closed session is a
// no-op.
func (s *Session) Leave(participantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[participantID]; !ok {
		return false
	}
	delete(s.participants, participantID)
	if len(s.participants) == 0 {
		s.emptySince = s.clock.Now()
	}

	s.logger.Info("participant left", "participant", participantID, "remaining", len(s.participants))
	return true
}

// UpdateCursor overwrites a participant's cursor. Positions past the end of
// the document are clamped to the end.
func (s *Session) UpdateCursor(participantID string, position int) (Presence, error) {
	if position < 0 {
		return Presence{}, fmt.Errorf("%w: negative cursor position %d", ot.ErrInvalidOperation, position)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Presence{}, fmt.Errorf("%w: %s", ErrUnknownSession, s.id)
	}
	p, ok := s.participants[participantID]
	if !ok {
		return Presence{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
	}
	p.CursorPosition = min(position, s.doc.Len())
	return *p, nil
}

// Submit transforms op against every operation accepted since
// op.BaseVersion, applies it, and returns the transformed operation with the
// version it produced.
//
// A rejected submission never changes content or version. An operation
// that transforms out of range is returned as a *RejectedError carrying a
// snapshot; the author's last seen version is reset to that snapshot.
func (s *Session) Submit(op ot.Operation) (SubmitResult, error) {
	res, transforms, err := s.submit(op)
	if err != nil {
		s.recorder.Rejected(s.ref, op, err)
		return SubmitResult{}, err
	}
	s.recorder.Applied(s.ref, res.Operation, transforms)
	return res, nil
}

func (s *Session) submit(op ot.Operation) (SubmitResult, int, error) {
	if err := op.Validate(); err != nil {
		return SubmitResult{}, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return SubmitResult{}, 0, fmt.Errorf("%w: %s", ErrUnknownSession, s.id)
	}
	author, ok := s.participants[op.AuthorID]
	if !ok {
		return SubmitResult{}, 0, fmt.Errorf("%w: %s", ErrUnknownParticipant, op.AuthorID)
	}
	if op.BaseVersion > s.doc.Version() {
		return SubmitResult{}, 0, fmt.Errorf("%w: base version %d is ahead of document version %d",
			ot.ErrInvalidOperation, op.BaseVersion, s.doc.Version())
	}

	// Sequence is assigned here; a caller-supplied one must not sway tie-breaks.
	op.Sequence = 0
	concurrent := s.doc.OperationsSince(op.BaseVersion)
	transformed := ot.TransformAll(op, concurrent)

	version, err := s.doc.Apply(transformed)
	if err != nil {
		snap := s.doc.Snapshot()
		author.LastSeenVersion = snap.Version
		s.logger.Error("operation rejected after transform",
			"participant", op.AuthorID,
			"authored", op.String(),
			"transformed", transformed.String(),
			"base_version", op.BaseVersion,
			"version", snap.Version,
			"error", err,
		)
		if errors.Is(err, ot.ErrOutOfRange) {
			return SubmitResult{}, 0, &RejectedError{Err: err, Snapshot: snap}
		}
		return SubmitResult{}, 0, err
	}
	transformed.Sequence = version

	for _, p := range s.participants {
		p.CursorPosition = ot.TransformCursor(p.CursorPosition, transformed)
	}
	author.LastSeenVersion = version

	s.logger.Debug("operation applied",
		"participant", op.AuthorID,
		"op", transformed.String(),
		"base_version", op.BaseVersion,
		"transforms", len(concurrent),
		"version", version,
	)

	return SubmitResult{Operation: transformed, Version: version}, len(concurrent), nil
}

// OperationsSince returns the accepted operations with sequence > version.
func (s *Session) OperationsSince(version int) ([]ot.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, s.id)
	}
	return s.doc.OperationsSince(version), nil
}

// Snapshot returns the current content and version.
func (s *Session) Snapshot() (document.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return document.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSession, s.id)
	}
	return s.doc.Snapshot(), nil
}

// State returns the whole session view, participants sorted by id.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownSession, s.id)
	}
	return State{
		SessionID:    s.id,
		DocumentID:   s.doc.ID(),
		Content:      s.doc.Content(),
		Version:      s.doc.Version(),
		Participants: s.presenceLocked(""),
	}, nil
}

// Presence returns one participant's presence.
func (s *Session) Presence(participantID string) (Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok {
		return Presence{}, false
	}
	return *p, true
}

// ParticipantCount returns the number of attached participants.
func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// presenceLocked copies every presence except exclude, sorted by id.
// Caller must hold s.mu.
func (s *Session) presenceLocked(exclude string) []Presence {
	out := make([]Presence, 0, len(s.participants))
	for id, p := range s.participants {
		if id == exclude {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// closeIfIdle marks the session closed when nobody is attached and, if
// idleFor > 0, it has been empty at least that long. Caller must hold the
// registry lock.
func (s *Session) closeIfIdle(now time.Time, idleFor time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.participants) > 0 {
		return false
	}
	if idleFor > 0 && (s.emptySince.IsZero() || now.Sub(s.emptySince) < idleFor) {
		return false
	}
	s.closed = true
	return true
}

// close marks the session closed unconditionally.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.participants = make(map[string]*Presence)
}
