package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/coedit/internal/ot"
	"github.com/roach88/coedit/internal/session"
)

// Message types. TypeOp is used in both directions.
const (
	TypeOp     = "op"
	TypeCursor = "cursor"
	TypeLeave  = "leave"

	TypeSnapshot = "snapshot"
	TypeAck      = "ack"
	TypePresence = "presence"
	TypeResync   = "resync"
	TypeError    = "error"
)

// Presence events.
const (
	EventJoined = "joined"
	EventLeft   = "left"
	EventCursor = "cursor"
)

// Error codes sent to clients that are not a session.Reason.
const (
	CodeRateLimited          = "rate_limited"
	CodeDuplicateParticipant = "duplicate_participant"
	CodeUnavailable          = "unavailable"
)

// ClientMessage is every message a client may send.
//
// Positions count Unicode code points. Inserted text must be NFC
// normalized so that client and server agree on its length.
type ClientMessage struct {
	Type        string `json:"type" validate:"required,oneof=op cursor leave"`
	Kind        string `json:"kind,omitempty" validate:"required_if=Type op,omitempty,oneof=insert delete"`
	Position    int    `json:"position" validate:"gte=0"`
	Text        string `json:"text,omitempty" validate:"nfc"`
	Length      int    `json:"length,omitempty" validate:"gte=0"`
	BaseVersion int    `json:"base_version" validate:"gte=0"`
}

// ServerMessage is every message the server sends. Version is always
// present; the other fields depend on Type.
type ServerMessage struct {
	Type         string             `json:"type"`
	SessionID    string             `json:"session_id,omitempty"`
	DocumentID   string             `json:"document_id,omitempty"`
	Content      string             `json:"content,omitempty"`
	Version      int                `json:"version"`
	Self         *session.Presence  `json:"self,omitempty"`
	Participants []session.Presence `json:"participants,omitempty"`
	Operation    *ot.Operation      `json:"operation,omitempty"`
	Event        string             `json:"event,omitempty"`
	Presence     *session.Presence  `json:"presence,omitempty"`
	Code         string             `json:"code,omitempty"`
	Message      string             `json:"message,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("nfc", func(fl validator.FieldLevel) bool {
		return norm.NFC.IsNormalString(fl.Field().String())
	})
	return v
}

// DecodeClientMessage parses and validates one client frame. Every
// failure wraps ot.ErrInvalidOperation.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: decode message: %v", ot.ErrInvalidOperation, err)
	}
	if err := validate.Struct(msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ot.ErrInvalidOperation, err)
	}
	return msg, nil
}

// Operation converts an op message into an operation authored by
// authorID.
func (m ClientMessage) Operation(authorID string) (ot.Operation, error) {
	if m.Type != TypeOp {
		return ot.Operation{}, fmt.Errorf("%w: %s message carries no operation", ot.ErrInvalidOperation, m.Type)
	}
	kind, err := ot.ParseKind(m.Kind)
	if err != nil {
		return ot.Operation{}, err
	}
	op := ot.Operation{
		Kind:        kind,
		Position:    m.Position,
		Text:        m.Text,
		Length:      m.Length,
		AuthorID:    authorID,
		BaseVersion: m.BaseVersion,
	}
	if err := op.Validate(); err != nil {
		return ot.Operation{}, err
	}
	return op, nil
}

func errorMessage(code string, err error) ServerMessage {
	return ServerMessage{Type: TypeError, Code: code, Message: err.Error()}
}
