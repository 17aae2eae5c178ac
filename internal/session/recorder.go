package session

import "github.com/roach88/coedit/internal/ot"

// Ref identifies one session incarnation. A session id reused after its
// session was removed gets a new Incarnation.
type Ref struct {
	SessionID   string
	DocumentID  string
	Incarnation uint64
}

// Recorder observes session activity. Calls are made outside every lock,
// possibly from many goroutines at once, and must not block for long.
type Recorder interface {
	// SessionCreated is called once when the registry creates a session.
	SessionCreated(ref Ref)

	// SessionRemoved is called once when the registry drops a session.
	SessionRemoved(ref Ref)

	// Applied is called for every accepted operation. op is the transformed
	// operation with its Sequence set; transforms is the length of the
	// chain it was folded through.
	Applied(ref Ref, op ot.Operation, transforms int)

	// Rejected is called for every submission that did not enter history.
	Rejected(ref Ref, op ot.Operation, err error)
}

// NopRecorder ignores everything. Embed it to implement a subset.
type NopRecorder struct{}

func (NopRecorder) SessionCreated(Ref) {}
func (NopRecorder) SessionRemoved(Ref) {}
func (NopRecorder) Applied(Ref, ot.Operation, int) {}
func (NopRecorder) Rejected(Ref, ot.Operation, error) {}

// Recorders fans every call out to each recorder in order.
type Recorders []Recorder

func (rs Recorders) SessionCreated(ref Ref) {
	for _, r := range rs {
		r.SessionCreated(ref)
	}
}

func (rs Recorders) SessionRemoved(ref Ref) {
	for _, r := range rs {
		r.SessionRemoved(ref)
	}
}

func (rs Recorders) Applied(ref Ref, op ot.Operation, transforms int) {
	for _, r := range rs {
		r.Applied(ref, op, transforms)
	}
}

func (rs Recorders) Rejected(ref Ref, op ot.Operation, err error) {
	for _, r := range rs {
		r.Rejected(ref, op, err)
	}
}
