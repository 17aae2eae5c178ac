// Package document holds the authoritative text buffer of one editable
// artifact together with its append-only operation history.
//
// # Invariants
//
//   - Version() == len(History())
//   - History()[i].Sequence == i+1
//   - Replay(ID(), Base(), History()) reproduces Content() exactly
//   - A failed Apply changes nothing
//
// A Document is not safe for concurrent use. It is owned by exactly one
// collaborative session, which serializes access under its own lock.
package document

import (
	"fmt"

	"github.com/roach88/coedit/internal/ot"
)

// Document is a text buffer with a linear, versioned history.
type Document struct {
	id      string
	base    string
	content []rune
	history []ot.Operation
}

// Snapshot is a consistent view of content at a version.
type Snapshot struct {
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	Version    int    `json:"version"`
}

// New creates a document at version 0. initial is the base text that
// history is replayed on top of; the registry always passes "".
func New(id, initial string) *Document {
	return &Document{
		id:      id,
		base:    initial,
		content: []rune(initial),
	}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Base returns the text the document was created with.
func (d *Document) Base() string { return d.base }

// Content returns the current text.
func (d *Document) Content() string { return string(d.content) }

// Len returns the current length in runes.
func (d *Document) Len() int { return len(d.content) }

// Version returns the number of applied operations.
func (d *Document) Version() int { return len(d.history) }

// Snapshot returns the current content and version together.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{DocumentID: d.id, Content: d.Content(), Version: d.Version()}
}

// Apply mutates content according to op, appends op to history with the
// next sequence number, and returns the new version.
//
// op must already be transformed against every operation accepted after
// its base version. Bounds are checked strictly; an operation that falls
// outside the buffer fails with ot.ErrOutOfRange and leaves the document
// unchanged.
func (d *Document) Apply(op ot.Operation) (int, error) {
	next, err := op.ApplyTo(d.content)
	if err != nil {
		return d.Version(), fmt.Errorf("document %s: apply at version %d: %w", d.id, d.Version(), err)
	}
	op.Sequence = d.Version() + 1
	d.content = next
	d.history = append(d.history, op)
	return op.Sequence, nil
}

// OperationsSince returns every history entry with Sequence > version, in
// application order. The returned slice is a copy.
func (d *Document) OperationsSince(version int) []ot.Operation {
	if version < 0 {
		version = 0
	}
	if version >= len(d.history) {
		return nil
	}
	out := make([]ot.Operation, len(d.history)-version)
	copy(out, d.history[version:])
	return out
}

// History returns a copy of the full history.
func (d *Document) History() []ot.Operation {
	return d.OperationsSince(0)
}

// Replay rebuilds a document by applying history on top of base. It fails
// if sequences are not exactly 1..n or if any operation does not apply.
func Replay(id, base string, history []ot.Operation) (*Document, error) {
	d := New(id, base)
	for i, op := range history {
		if op.Sequence != i+1 {
			return nil, fmt.Errorf("document %s: replay: entry %d has sequence %d, want %d", id, i, op.Sequence, i+1)
		}
		if _, err := d.Apply(op); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
	}
	return d, nil
}
