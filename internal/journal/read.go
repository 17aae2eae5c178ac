package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/coedit/internal/ot"
)

// ErrNotFound is returned when no incarnation matches a session id.
var ErrNotFound = errors.New("not found in journal")

// SessionRecord is one session incarnation.
type SessionRecord struct {
	Incarnation int64     `json:"incarnation"`
	SessionID   string    `json:"session_id"`
	DocumentID  string    `json:"document_id"`
	CreatedAt   time.Time `json:"created_at"`
	RemovedAt   time.Time `json:"removed_at,omitzero"`
	Operations  int       `json:"operations"`
	Rejections  int       `json:"rejections"`
}

// Rejection is a submission that never entered history. Kind is kept as
// text because rejected input may carry a kind the codec cannot parse.
type Rejection struct {
	ID          int64     `json:"id"`
	Incarnation int64     `json:"incarnation"`
	Kind        string    `json:"kind"`
	Position    int       `json:"position"`
	Text        string    `json:"text,omitempty"`
	Length      int       `json:"length,omitempty"`
	AuthorID    string    `json:"author_id"`
	BaseVersion int       `json:"base_version"`
	Reason      string    `json:"reason"`
	Message     string    `json:"message"`
	RecordedAt  time.Time `json:"recorded_at"`
}

const sessionColumns = `
	s.id, s.session_id, s.document_id, s.created_at, s.removed_at,
	(SELECT COUNT(*) FROM operations o WHERE o.incarnation = s.id),
	(SELECT COUNT(*) FROM rejections r WHERE r.incarnation = s.id)
`

// Sessions returns every incarnation in creation order.
func (j *Journal) Sessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions s ORDER BY s.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	records := []SessionRecord{}
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return records, nil
}

// Latest returns the most recent incarnation of sessionID.
func (j *Journal) Latest(ctx context.Context, sessionID string) (SessionRecord, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.session_id = ?
		ORDER BY s.id DESC
		LIMIT 1
	`, sessionID)

	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return rec, err
}

// Operations returns the accepted operations of the latest incarnation of
// sessionID, ordered by seq.
func (j *Journal) Operations(ctx context.Context, sessionID string) ([]ot.Operation, error) {
	rec, err := j.Latest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return j.IncarnationOperations(ctx, rec.Incarnation)
}

// IncarnationOperations returns the accepted operations of one
// incarnation, ordered by seq.
func (j *Journal) IncarnationOperations(ctx context.Context, incarnation int64) ([]ot.Operation, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, kind, position, text, length, author_id, base_version
		FROM operations
		WHERE incarnation = ?
		ORDER BY seq ASC
	`, incarnation)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	ops := []ot.Operation{}
	for rows.Next() {
		var (
			op   ot.Operation
			kind string
		)
		if err := rows.Scan(&op.Sequence, &kind, &op.Position, &op.Text, &op.Length, &op.AuthorID, &op.BaseVersion); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		if op.Kind, err = ot.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("operation seq %d: %w", op.Sequence, err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

// Rejections returns the rejected submissions of one incarnation in the
// order they were recorded.
func (j *Journal) Rejections(ctx context.Context, incarnation int64) ([]Rejection, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, incarnation, kind, position, text, length, author_id, base_version, reason, message, recorded_at
		FROM rejections
		WHERE incarnation = ?
		ORDER BY id ASC
	`, incarnation)
	if err != nil {
		return nil, fmt.Errorf("query rejections: %w", err)
	}
	defer rows.Close()

	rejections := []Rejection{}
	for rows.Next() {
		var (
			r          Rejection
			recordedAt string
		)
		if err := rows.Scan(&r.ID, &r.Incarnation, &r.Kind, &r.Position, &r.Text, &r.Length,
			&r.AuthorID, &r.BaseVersion, &r.Reason, &r.Message, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan rejection: %w", err)
		}
		if r.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		rejections = append(rejections, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rejections: %w", err)
	}
	return rejections, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var (
		rec       SessionRecord
		createdAt string
		removedAt sql.NullString
	)
	err := row.Scan(&rec.Incarnation, &rec.SessionID, &rec.DocumentID, &createdAt, &removedAt, &rec.Operations, &rec.Rejections)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionRecord{}, err
		}
		return SessionRecord{}, fmt.Errorf("scan session: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return SessionRecord{}, err
	}
	if removedAt.Valid {
		if rec.RemovedAt, err = parseTime(removedAt.String); err != nil {
			return SessionRecord{}, err
		}
	}
	return rec, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
