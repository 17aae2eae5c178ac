package session

import (
	"errors"
	"fmt"

	"github.com/roach88/coedit/internal/document"
	"github.com/roach88/coedit/internal/ot"
)

var (
	// ErrUnknownSession is returned for ids the registry does not hold and
	// for handles to sessions that have since been removed.
	ErrUnknownSession = errors.New("unknown session")

	// ErrUnknownParticipant is returned when the participant has not joined.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrInvalidParticipant is returned for an empty participant id.
	ErrInvalidParticipant = errors.New("invalid participant")

	// ErrDocumentMismatch is returned by GetOrCreate when the session exists
	// but edits a different document.
	ErrDocumentMismatch = errors.New("session edits a different document")

	// ErrRegistryClosed is returned after Registry.Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// RejectedError reports an operation that transformed to an out-of-range
// edit. The session was left untouched; Snapshot is its current state, which
// the submitting client must reload before editing again.
type RejectedError struct {
	Err      error
	Snapshot document.Snapshot
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("operation rejected at version %d: %v", e.Snapshot.Version, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Reason classifies a Submit error into a short stable label for metrics,
// journals and wire error codes.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ot.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ot.ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, ErrUnknownSession):
		return "unknown_session"
	default:
		return "internal"
	}
}
