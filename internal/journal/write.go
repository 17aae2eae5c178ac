package journal

import (
	"context"
	"fmt"

	"github.com/roach88/coedit/internal/ot"
)

// BeginSession records a new session incarnation and returns its row id.
func (j *Journal) BeginSession(ctx context.Context, sessionID, documentID string) (int64, error) {
	res, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, document_id, created_at)
		VALUES (?, ?, ?)
	`, sessionID, documentID, j.timestamp())
	if err != nil {
		return 0, fmt.Errorf("begin session %s: %w", sessionID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("begin session %s: %w", sessionID, err)
	}
	return id, nil
}

// EndSession stamps the removal time of an incarnation. Ending twice keeps
// the first timestamp.
func (j *Journal) EndSession(ctx context.Context, incarnation int64) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE sessions SET removed_at = ?
		WHERE id = ? AND removed_at IS NULL
	`, j.timestamp(), incarnation)
	if err != nil {
		return fmt.Errorf("end session %d: %w", incarnation, err)
	}
	return nil
}

// WriteOperation appends an accepted operation. op.Sequence must be set.
// Writing the same (incarnation, seq) twice is silently ignored.
func (j *Journal) WriteOperation(ctx context.Context, incarnation int64, op ot.Operation, transforms int) error {
	if op.Sequence <= 0 {
		return fmt.Errorf("write operation: unsequenced operation %s", op)
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO operations
		(incarnation, seq, kind, position, text, length, author_id, base_version, transforms, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(incarnation, seq) DO NOTHING
	`,
		incarnation,
		op.Sequence,
		op.Kind.String(),
		op.Position,
		op.Text,
		op.Length,
		op.AuthorID,
		op.BaseVersion,
		transforms,
		j.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("write operation: %w", err)
	}
	return nil
}

// WriteRejection appends a rejected submission as the client sent it.
func (j *Journal) WriteRejection(ctx context.Context, incarnation int64, op ot.Operation, reason, message string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO rejections
		(incarnation, kind, position, text, length, author_id, base_version, reason, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		incarnation,
		op.Kind.String(),
		op.Position,
		op.Text,
		op.Length,
		op.AuthorID,
		op.BaseVersion,
		reason,
		message,
		j.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("write rejection: %w", err)
	}
	return nil
}
