package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coedit/internal/document"
	"github.com/roach88/coedit/internal/ot"
	"github.com/roach88/coedit/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, initial string, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithClock(testutil.NewFakeClock(time.Time{}))}, opts...)
	return New("s-1", document.New("doc-1", initial), opts...)
}

func join(t *testing.T, s *Session, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := s.Join(id, "user-"+id)
		require.NoError(t, err)
	}
}

func insertOp(author string, pos int, text string, base int) ot.Operation {
	return ot.Operation{Kind: ot.KindInsert, Position: pos, Text: text, AuthorID: author, BaseVersion: base}
}

func deleteOp(author string, pos, length, base int) ot.Operation {
	return ot.Operation{Kind: ot.KindDelete, Position: pos, Length: length, AuthorID: author, BaseVersion: base}
}

// captureRecorder keeps every Recorder call for assertions.
type captureRecorder struct {
	mu       sync.Mutex
	applied  []ot.Operation
	rejected []error
}

func (r *captureRecorder) SessionCreated(Ref) {}
func (r *captureRecorder) SessionRemoved(Ref) {}

func (r *captureRecorder) Applied(_ Ref, op ot.Operation, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, op)
}

func (r *captureRecorder) Rejected(_ Ref, _ ot.Operation, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, err)
}

func TestSubmit_ConcurrentInsertsConvergeInEitherOrder(t *testing.T) {
	a := insertOp("A", 5, " world", 0)
	b := insertOp("B", 0, "Say: ", 0)

	for name, order := range map[string][]ot.Operation{"A first": {a, b}, "B first": {b, a}} {
		t.Run(name, func(t *testing.T) {
			s := newTestSession(t, "hello")
			join(t, s, "A", "B")

			for _, op := range order {
				_, err := s.Submit(op)
				require.NoError(t, err)
			}

			snap, err := s.Snapshot()
			require.NoError(t, err)
			assert.Equal(t, "Say: hello world", snap.Content)
			assert.Equal(t, 2, snap.Version)
		})
	}
}

func TestSubmit_OverlappingDeletes(t *testing.T) {
	s := newTestSession(t, "abcdef")
	join(t, s, "A", "B")

	_, err := s.Submit(deleteOp("A", 1, 3, 0))
	require.NoError(t, err)
	res, err := s.Submit(deleteOp("B", 2, 2, 0))
	require.NoError(t, err)

	assert.True(t, res.Operation.IsNoop(), "second delete was fully covered by the first")
	snap, _ := s.Snapshot()
	assert.Equal(t, "aef", snap.Content)
	assert.Equal(t, 2, snap.Version)
}

func TestSubmit_SamePositionTieBreakIsOrderIndependent(t *testing.T) {
	var results []string
	for _, first := range []string{"alice", "bob"} {
		s := newTestSession(t, "ab")
		join(t, s, "alice", "bob")

		ops := map[string]ot.Operation{
			"alice": insertOp("alice", 1, "A", 0),
			"bob":   insertOp("bob", 1, "B", 0),
		}
		second := "bob"
		if first == "bob" {
			second = "alice"
		}
		_, err := s.Submit(ops[first])
		require.NoError(t, err)
		_, err = s.Submit(ops[second])
		require.NoError(t, err)

		snap, _ := s.Snapshot()
		results = append(results, snap.Content)
	}

	assert.Equal(t, "aABb", results[0])
	assert.Equal(t, results[0], results[1])
}

func TestSubmit_IgnoresCallerSequence(t *testing.T) {
	s := newTestSession(t, "ab")
	join(t, s, "A")

	_, err := s.Submit(insertOp("A", 1, "X", 0))
	require.NoError(t, err)

	op := insertOp("A", 1, "Y", 0)
	op.Sequence = 1
	res, err := s.Submit(op)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Operation.Sequence)
	assert.Equal(t, 2, res.Operation.Position, "the accepted insert lands first")

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "aXYb", snap.Content)
}

func TestSubmit_ReturnsTransformedOperation(t *testing.T) {
	s := newTestSession(t, "hello")
	join(t, s, "A", "B")

	first, err := s.Submit(insertOp("B", 0, "Say: ", 0))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 1, first.Operation.Sequence)

	second, err := s.Submit(insertOp("A", 5, " world", 0))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, 10, second.Operation.Position)
	assert.Equal(t, 2, second.Operation.Sequence)
	assert.Equal(t, 0, second.Operation.BaseVersion)

	p, ok := s.Presence("A")
	require.True(t, ok)
	assert.Equal(t, 2, p.LastSeenVersion)
}

func TestSubmit_UnknownParticipant(t *testing.T) {
	s := newTestSession(t, "hello")
	rec := &captureRecorder{}
	s.recorder = rec

	_, err := s.Submit(insertOp("ghost", 0, "x", 0))
	assert.ErrorIs(t, err, ErrUnknownParticipant)

	snap, _ := s.Snapshot()
	assert.Equal(t, 0, snap.Version)
	assert.Len(t, rec.rejected, 1)
}

func TestSubmit_InvalidOperationNeverEntersHistory(t *testing.T) {
	s := newTestSession(t, "hello")
	join(t, s, "A")

	_, err := s.Submit(ot.Operation{Kind: ot.KindInsert, Position: -1, Text: "x", AuthorID: "A"})
	assert.True(t, ot.IsInvalidOperation(err))

	_, err = s.Submit(insertOp("A", 0, "x", 3))
	assert.True(t, ot.IsInvalidOperation(err), "base version ahead of the document")

	ops, err := s.OperationsSince(0)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestSubmit_OutOfRangeReturnsSnapshot(t *testing.T) {
	s := newTestSession(t, "hello")
	join(t, s, "A", "B")
	_, err := s.Submit(insertOp("B", 5, "!", 0))
	require.NoError(t, err)

	_, err = s.Submit(deleteOp("A", 3, 10, 0))
	require.Error(t, err)
	assert.True(t, ot.IsOutOfRange(err))

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "hello!", rejected.Snapshot.Content)
	assert.Equal(t, 1, rejected.Snapshot.Version)

	snap, _ := s.Snapshot()
	assert.Equal(t, "hello!", snap.Content)
	assert.Equal(t, 1, snap.Version)

	p, _ := s.Presence("A")
	assert.Equal(t, 1, p.LastSeenVersion, "author is reset to the snapshot")
}

func TestSubmit_LongOfflineClientIsTransformedNotRejected(t *testing.T) {
	s := newTestSession(t, "")
	join(t, s, "A", "B")

	for i := 0; i < 200; i++ {
		_, err := s.Submit(insertOp("B", i, "b", i))
		require.NoError(t, err)
	}
	res, err := s.Submit(insertOp("A", 0, "a", 0))
	require.NoError(t, err)
	assert.Equal(t, 201, res.Version)

	snap, _ := s.Snapshot()
	assert.Equal(t, 201, len(snap.Content))
	assert.Equal(t, byte('a'), snap.Content[0], "A sorts before B at the tie")
}

func TestSubmit_MovesCursors(t *testing.T) {
	s := newTestSession(t, "hello world")
	join(t, s, "A", "B")
	_, err := s.UpdateCursor("B", 6)
	require.NoError(t, err)

	_, err = s.Submit(insertOp("A", 0, ">> ", 0))
	require.NoError(t, err)
	p, _ := s.Presence("B")
	assert.Equal(t, 9, p.CursorPosition)

	_, err = s.Submit(deleteOp("A", 3, 5, 1))
	require.NoError(t, err)
	p, _ = s.Presence("B")
	assert.Equal(t, 4, p.CursorPosition)
}

func TestSubmit_RecordsApplied(t *testing.T) {
	rec := &captureRecorder{}
	s := newTestSession(t, "", WithRecorder(rec))
	join(t, s, "A")

	_, err := s.Submit(insertOp("A", 0, "x", 0))
	require.NoError(t, err)

	require.Len(t, rec.applied, 1)
	assert.Equal(t, 1, rec.applied[0].Sequence)
}

func TestSubmit_ParallelSubmittersConverge(t *testing.T) {
	s := newTestSession(t, "")
	const writers = 16
	const perWriter = 25

	for i := 0; i < writers; i++ {
		join(t, s, fmt.Sprintf("w%02d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(author string) {
			defer wg.Done()
			base := 0
			for j := 0; j < perWriter; j++ {
				res, err := s.Submit(insertOp(author, 0, "x", base))
				if !assert.NoError(t, err) {
					return
				}
				base = res.Version
			}
		}(fmt.Sprintf("w%02d", i))
	}
	wg.Wait()

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, snap.Version)
	assert.Len(t, snap.Content, writers*perWriter)

	ops, err := s.OperationsSince(0)
	require.NoError(t, err)
	replayed, err := document.Replay("doc-1", "", ops)
	require.NoError(t, err)
	assert.Equal(t, snap.Content, replayed.Content())
	for i, op := range ops {
		assert.Equal(t, i+1, op.Sequence)
	}
}

func TestJoin_ReturnsPresenceSnapshot(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	s := newTestSession(t, "hello", WithClock(clock))
	join(t, s, "B")
	_, err := s.Submit(insertOp("B", 5, "!", 0))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	snap, err := s.Join("A", "alice")
	require.NoError(t, err)

	assert.Equal(t, "s-1", snap.SessionID)
	assert.Equal(t, "doc-1", snap.DocumentID)
	assert.Equal(t, "hello!", snap.Content)
	assert.Equal(t, 1, snap.Version)
	assert.Equal(t, "alice", snap.Self.Username)
	assert.Equal(t, 1, snap.Self.LastSeenVersion)
	assert.Equal(t, testutil.Epoch.Add(time.Minute), snap.Self.ConnectedAt)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, "B", snap.Participants[0].ParticipantID)
}

func TestJoin_RejoinKeepsConnectedAt(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	s := newTestSession(t, "", WithClock(clock))
	first, err := s.Join("A", "alice")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	second, err := s.Join("A", "alice2")
	require.NoError(t, err)

	assert.Equal(t, first.Self.ConnectedAt, second.Self.ConnectedAt)
	assert.Equal(t, "alice2", second.Self.Username)
	assert.Equal(t, 1, s.ParticipantCount())
}

func TestJoin_EmptyParticipant(t *testing.T) {
	s := newTestSession(t, "")
	_, err := s.Join("", "nobody")
	assert.ErrorIs(t, err, ErrInvalidParticipant)
}

func TestLeave_Idempotent(t *testing.T) {
	s := newTestSession(t, "hello")
	join(t, s, "A")

	assert.True(t, s.Leave("A"))
	assert.False(t, s.Leave("A"))
	assert.False(t, s.Leave("never-joined"))
	assert.Equal(t, 0, s.ParticipantCount())

	snap, _ := s.Snapshot()
	assert.Equal(t, "hello", snap.Content)
}

func TestUpdateCursor(t *testing.T) {
	s := newTestSession(t, "hello")
	join(t, s, "A")

	p, err := s.UpdateCursor("A", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.CursorPosition)

	p, err = s.UpdateCursor("A", 99)
	require.NoError(t, err)
	assert.Equal(t, 5, p.CursorPosition, "clamped to document end")

	_, err = s.UpdateCursor("A", -1)
	assert.True(t, ot.IsInvalidOperation(err))

	_, err = s.UpdateCursor("ghost", 1)
	assert.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestState_SortsParticipants(t *testing.T) {
	s := newTestSession(t, "x")
	join(t, s, "c", "a", "b")

	st, err := s.State()
	require.NoError(t, err)
	require.Len(t, st.Participants, 3)
	assert.Equal(t, "a", st.Participants[0].ParticipantID)
	assert.Equal(t, "b", st.Participants[1].ParticipantID)
	assert.Equal(t, "c", st.Participants[2].ParticipantID)
	assert.Equal(t, "x", st.Content)
}

func TestClosedSession_RejectsEverything(t *testing.T) {
	s := newTestSession(t, "hello")
	join(t, s, "A")
	s.close()

	_, err := s.Submit(insertOp("A", 0, "x", 0))
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = s.Join("B", "bob")
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = s.OperationsSince(0)
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = s.State()
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.False(t, s.Leave("A"))
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&RejectedError{Err: fmt.Errorf("apply: %w", ot.ErrOutOfRange)}, "out_of_range"},
		{fmt.Errorf("%w: bad", ot.ErrInvalidOperation), "invalid_operation"},
		{fmt.Errorf("%w: x", ErrUnknownParticipant), "unknown_participant"},
		{ErrUnknownSession, "unknown_session"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Reason(tt.err))
	}
}
