package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/coedit/internal/ot"
	"github.com/roach88/coedit/internal/session"
)

// DefaultWriteTimeout bounds a single journal write made by Recorder.
const DefaultWriteTimeout = 2 * time.Second

// Recorder writes session activity to a Journal. Write failures are logged
// and dropped; the journal never affects editing.
//
// Thread-safety: safe for concurrent use.
type Recorder struct {
	journal *Journal
	logger  *slog.Logger
	timeout time.Duration

	// incarnations maps session.Ref.Incarnation to sessions.id. Entries
	// outlive SessionRemoved so that a late event from a stale handle lands
	// on the row it belongs to instead of opening a new one.
	mu           sync.Mutex
	incarnations map[uint64]int64
}

var _ session.Recorder = (*Recorder)(nil)

// NewRecorder creates a recorder. A non-positive timeout uses
// DefaultWriteTimeout.
func NewRecorder(j *Journal, logger *slog.Logger, timeout time.Duration) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return &Recorder{
		journal:      j,
		logger:       logger,
		timeout:      timeout,
		incarnations: make(map[uint64]int64),
	}
}

// SessionCreated implements session.Recorder.
func (r *Recorder) SessionCreated(ref session.Ref) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if _, err := r.incarnation(ctx, ref); err != nil {
		r.logger.Warn("journal: record session", "session", ref.SessionID, "error", err)
	}
}

// SessionRemoved implements session.Recorder.
func (r *Recorder) SessionRemoved(ref session.Ref) {
	r.mu.Lock()
	id, ok := r.incarnations[ref.Incarnation]
	r.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.journal.EndSession(ctx, id); err != nil {
		r.logger.Warn("journal: end session", "session", ref.SessionID, "error", err)
	}
}

// Applied implements session.Recorder.
func (r *Recorder) Applied(ref session.Ref, op ot.Operation, transforms int) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	id, err := r.incarnation(ctx, ref)
	if err == nil {
		err = r.journal.WriteOperation(ctx, id, op, transforms)
	}
	if err != nil {
		r.logger.Warn("journal: record operation", "session", ref.SessionID, "seq", op.Sequence, "error", err)
	}
}

// Rejected implements session.Recorder.
func (r *Recorder) Rejected(ref session.Ref, op ot.Operation, rejection error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	id, err := r.incarnation(ctx, ref)
	if err == nil {
		err = r.journal.WriteRejection(ctx, id, op, session.Reason(rejection), rejection.Error())
	}
	if err != nil {
		r.logger.Warn("journal: record rejection", "session", ref.SessionID, "error", err)
	}
}

// incarnation returns the row id for ref, creating the row on first use.
// Sessions built outside a registry never see SessionCreated.
func (r *Recorder) incarnation(ctx context.Context, ref session.Ref) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.incarnations[ref.Incarnation]; ok {
		return id, nil
	}
	id, err := r.journal.BeginSession(ctx, ref.SessionID, ref.DocumentID)
	if err != nil {
		return 0, err
	}
	r.incarnations[ref.Incarnation] = id
	return id, nil
}
