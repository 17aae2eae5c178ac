package ot

import (
	"fmt"
	"unicode/utf8"
)

// Kind distinguishes inserts from deletes.
type Kind int

const (
	// KindInsert inserts Text at Position.
	KindInsert Kind = iota + 1
	// KindDelete removes Length runes starting at Position.
	KindDelete
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a wire name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "insert":
		return KindInsert, nil
	case "delete":
		return KindDelete, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, s)
	}
}

// MarshalText encodes the kind by name so JSON carries "insert"/"delete".
func (k Kind) MarshalText() ([]byte, error) {
	if k != KindInsert && k != KindDelete {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidOperation, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Operation is the atomic edit primitive.
//
// Operations are values: Transform and Document.Apply never mutate the
// operation they are given, they return a rewritten copy.
//
// Position and Length count runes. BaseVersion is the document version the
// author observed. Sequence is zero until the operation is accepted into a
// document history, after which it equals the version it produced.
type Operation struct {
	Kind        Kind   `json:"kind"`
	Position    int    `json:"position"`
	Text        string `json:"text,omitempty"`
	Length      int    `json:"length,omitempty"`
	AuthorID    string `json:"author_id"`
	BaseVersion int    `json:"base_version"`
	Sequence    int    `json:"sequence,omitempty"`
}

// NewInsert builds a validated insert operation.
func NewInsert(authorID string, position int, text string, baseVersion int) (Operation, error) {
	op := Operation{
		Kind:        KindInsert,
		Position:    position,
		Text:        text,
		AuthorID:    authorID,
		BaseVersion: baseVersion,
	}
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// NewDelete builds a validated delete operation.
func NewDelete(authorID string, position, length int, baseVersion int) (Operation, error) {
	op := Operation{
		Kind:        KindDelete,
		Position:    position,
		Length:      length,
		AuthorID:    authorID,
		BaseVersion: baseVersion,
	}
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// Validate checks the structural invariants that do not depend on the
// document: known kind, non-negative position, non-negative delete length,
// valid UTF-8 insert text, and payload fields matching the kind.
func (op Operation) Validate() error {
	if op.Position < 0 {
		return invalid(op, "negative position %d", op.Position)
	}
	if op.BaseVersion < 0 {
		return invalid(op, "negative base version %d", op.BaseVersion)
	}
	switch op.Kind {
	case KindInsert:
		if op.Length != 0 {
			return invalid(op, "insert must not carry a length")
		}
		if !utf8.ValidString(op.Text) {
			return invalid(op, "insert text is not valid UTF-8")
		}
	case KindDelete:
		if op.Length < 0 {
			return invalid(op, "negative delete length %d", op.Length)
		}
		if op.Text != "" {
			return invalid(op, "delete must not carry text")
		}
	default:
		return invalid(op, "unknown kind %d", int(op.Kind))
	}
	return nil
}

// Span is the number of runes the operation inserts or removes.
func (op Operation) Span() int {
	if op.Kind == KindInsert {
		return utf8.RuneCountInString(op.Text)
	}
	return op.Length
}

// End is the first rune offset after the operation's range.
func (op Operation) End() int {
	return op.Position + op.Span()
}

// IsNoop reports whether applying the operation leaves content unchanged.
func (op Operation) IsNoop() bool {
	return op.Span() == 0
}

// ApplyTo returns content with the operation applied. The input slice is
// not modified. Bounds are checked strictly: nothing is clamped.
func (op Operation) ApplyTo(content []rune) ([]rune, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	switch op.Kind {
	case KindInsert:
		if op.Position > len(content) {
			return nil, outOfRange(op, "insert at %d past end %d", op.Position, len(content))
		}
		text := []rune(op.Text)
		out := make([]rune, 0, len(content)+len(text))
		out = append(out, content[:op.Position]...)
		out = append(out, text...)
		return append(out, content[op.Position:]...), nil
	default:
		if op.End() > len(content) {
			return nil, outOfRange(op, "delete [%d,%d) past end %d", op.Position, op.End(), len(content))
		}
		out := make([]rune, 0, len(content)-op.Length)
		out = append(out, content[:op.Position]...)
		return append(out, content[op.End():]...), nil
	}
}

// String renders the operation compactly for logs and traces.
func (op Operation) String() string {
	switch op.Kind {
	case KindInsert:
		return fmt.Sprintf("insert@%d %q", op.Position, op.Text)
	case KindDelete:
		return fmt.Sprintf("delete@%d+%d", op.Position, op.Length)
	default:
		return fmt.Sprintf("%s@%d", op.Kind, op.Position)
	}
}
