package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/coedit/internal/document"
)

// joinAttempts bounds how often Registry.Join retries after racing a
// removal of the session it looked up.
const joinAttempts = 3

// Registry is the process-wide lookup from session id to Session.
//
// Lock order: Registry.mu, then Session.mu. Sessions never take the
// registry lock, so the order cannot invert.
type Registry struct {
	mu       sync.Mutex // protects sessions and closed
	sessions map[string]*Session
	closed   bool

	opts   options
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Options are inherited by every
// session it creates.
func NewRegistry(opts ...Option) *Registry {
	o := buildOptions(opts)
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     o,
		logger:   o.logger,
	}
}

// GetOrCreate returns the session for sessionID, creating it with an empty
// document named documentID if absent. An empty documentID defaults to the
// session id on creation and matches any document on lookup.
func (r *Registry) GetOrCreate(sessionID, documentID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrUnknownSession)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if s, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		if documentID != "" && s.DocumentID() != documentID {
			return nil, fmt.Errorf("%w: session %s edits %s, not %s", ErrDocumentMismatch, sessionID, s.DocumentID(), documentID)
		}
		return s, nil
	}

	if documentID == "" {
		documentID = sessionID
	}
	s := newSession(sessionID, document.New(documentID, ""), r.opts)
	r.sessions[sessionID] = s
	r.mu.Unlock()

	r.logger.Info("session created", "session", sessionID, "document", documentID)
	r.opts.recorder.SessionCreated(s.Ref())
	return s, nil
}

// Get returns a registered session or ErrUnknownSession.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return s, nil
}

// Join looks up or creates the session and attaches the participant. If the
// session is removed between lookup and join, a fresh one is created.
func (r *Registry) Join(sessionID, documentID, participantID, username string) (*Session, JoinSnapshot, error) {
	var lastErr error
	for attempt := 0; attempt < joinAttempts; attempt++ {
		s, err := r.GetOrCreate(sessionID, documentID)
		if err != nil {
			return nil, JoinSnapshot{}, err
		}
		snap, err := s.Join(participantID, username)
		if err == nil {
			return s, snap, nil
		}
		if !errors.Is(err, ErrUnknownSession) {
			return nil, JoinSnapshot{}, err
		}
		lastErr = err
	}
	return nil, JoinSnapshot{}, lastErr
}

// RemoveIfEmpty deletes the session only if nobody is attached. The
// participant count is re-checked under the session lock, so a concurrent
// Join either lands before removal (and blocks it) or sees the session
// closed and retries against a fresh one.
func (r *Registry) RemoveIfEmpty(sessionID string) bool {
	return r.remove(sessionID, time.Time{}, 0)
}

// Reap removes every session that has been empty for at least the idle
// timeout as of now, returning their ids in sorted order.
func (r *Registry) Reap(now time.Time) []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	var removed []string
	for _, id := range ids {
		if r.remove(id, now, r.opts.idleTimeout) {
			removed = append(removed, id)
		}
	}
	r.logger.Debug("reaper sweep", "checked", len(ids), "removed", len(removed))
	return removed
}

func (r *Registry) remove(sessionID string, now time.Time, idleFor time.Duration) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok || !s.closeIfIdle(now, idleFor) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	r.logger.Info("session removed", "session", sessionID)
	r.opts.recorder.SessionRemoved(s.Ref())
	return true
}

// RunReaper calls Reap every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reaper interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Reap(r.opts.clock.Now())
		}
	}
}

// Close tears down every session. Later calls on the registry fail with
// ErrRegistryClosed and stale session handles fail with ErrUnknownSession.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	for _, s := range sessions {
		s.close()
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.opts.recorder.SessionRemoved(s.Ref())
	}
	r.logger.Info("registry closed", "sessions", len(sessions))
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the registered session ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
