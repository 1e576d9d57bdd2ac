package engine

import (
	"encoding/json"
	"fmt"

	"github.com/fivetentaylor/pointy-sub000/internal/merge"
	"github.com/fivetentaylor/pointy-sub000/internal/operations"
)

// Kind is the closed set of inbound message kinds. Frames without a type
// field are operations; everything else dispatches on its type string.
type Kind int

const (
	KindOperation Kind = iota
	KindAuth
	KindCursor
	KindNewCursor
	KindDeleteCursor
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindOperation:
		return "operation"
	case KindAuth:
		return "auth"
	case KindCursor:
		return "cursor"
	case KindNewCursor:
		return "newCursor"
	case KindDeleteCursor:
		return "deleteCursor"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Event names carried by event frames.
const (
	EventLoaded = "loaded"
	EventPing   = "ping"
	EventPong   = "pong"
)

type AuthFrame struct {
	AuthorID string `json:"authorID"`
}

type CursorFrame struct {
	AuthorID string     `json:"authorID"`
	UserID   string     `json:"userID,omitempty"`
	Name     string     `json:"name,omitempty"`
	Color    string     `json:"color,omitempty"`
	Range    merge.Span `json:"range"`
	Editing  bool       `json:"editing"`
}

type DeleteCursorFrame struct {
	AuthorID string `json:"authorID"`
}

type EventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is the decoded form of one socket frame.
type Inbound struct {
	Kind         Kind
	Op           operations.Operation
	Auth         AuthFrame
	Cursor       CursorFrame
	DeleteCursor DeleteCursorFrame
	Event        EventFrame
}

// DecodeInbound classifies and decodes a raw frame. Operation frames are
// bare JSON arrays; typed frames dispatch on their type field.
func DecodeInbound(frame []byte) (Inbound, error) {
	if operations.LooksLikeOperation(frame) {
		var op operations.Operation
		if err := json.Unmarshal(frame, &op); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return Inbound{Kind: KindOperation, Op: op}, nil
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	switch probe.Type {
	case "auth":
		var msg Inbound
		msg.Kind = KindAuth
		if err := json.Unmarshal(frame, &msg.Auth); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return msg, nil

	case "cursor", "newCursor":
		var msg Inbound
		msg.Kind = KindCursor
		if probe.Type == "newCursor" {
			msg.Kind = KindNewCursor
		}
		if err := json.Unmarshal(frame, &msg.Cursor); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return msg, nil

	case "deleteCursor":
		var msg Inbound
		msg.Kind = KindDeleteCursor
		if err := json.Unmarshal(frame, &msg.DeleteCursor); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return msg, nil

	case "event":
		var msg Inbound
		msg.Kind = KindEvent
		if err := json.Unmarshal(frame, &msg.Event); err != nil {
			return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return msg, nil

	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, probe.Type)
	}
}

type subscribeFrame struct {
	Type     string `json:"type"`
	DocID    string `json:"docID"`
	AuthorID string `json:"authorID"`
}

type opFrame struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

type eventOutFrame struct {
	Type  string      `json:"type"`
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type cursorOutFrame struct {
	Type     string     `json:"type"`
	AuthorID string     `json:"authorID"`
	UserID   string     `json:"userID,omitempty"`
	Name     string     `json:"name,omitempty"`
	Color    string     `json:"color,omitempty"`
	Range    merge.Span `json:"range"`
	Editing  bool       `json:"editing"`
}

// EncodeSubscribe builds the frame sent on socket open.
func EncodeSubscribe(docID, authorID string) ([]byte, error) {
	return json.Marshal(subscribeFrame{Type: "subscribe", DocID: docID, AuthorID: authorID})
}

// EncodeOp wraps an operation for transmission. The operation itself is
// carried json-encoded inside the frame.
func EncodeOp(op operations.Operation) ([]byte, error) {
	encoded, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(opFrame{Type: "op", Op: string(encoded)})
}

// EncodeEvent builds an outbound event frame.
func EncodeEvent(event string, data interface{}) ([]byte, error) {
	return json.Marshal(eventOutFrame{Type: "event", Event: event, Data: data})
}

// EncodeCursor builds an outbound presence frame.
func EncodeCursor(f CursorFrame) ([]byte, error) {
	return json.Marshal(cursorOutFrame{
		Type:     "cursor",
		AuthorID: f.AuthorID,
		UserID:   f.UserID,
		Name:     f.Name,
		Color:    f.Color,
		Range:    f.Range,
		Editing:  f.Editing,
	})
}
