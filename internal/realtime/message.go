package realtime

import (
	"collaborative-office-suite/internal/errors"
	"encoding/json"
)

// Frames sent by the browser.
const (
	TypeEdit          = "edit"
	TypeCaret         = "caret"
	TypeSave          = "save"
	TypeShare         = "share"
	TypeCommentAdd    = "comment-add"
	TypeCommentEdit   = "comment-edit"
	TypeCommentDelete = "comment-delete"
)

// Frames sent by the server.
const (
	TypeView         = "view"
	TypeRemoteUpdate = "remote-update"
	TypeStatus       = "status"
	TypeAck          = "ack"
	TypeError        = "error"
	TypeTerminated   = "terminated"
)

// Message is an inbound frame. ID is optional and echoed on the ack or
// error that answers it.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame is an outbound frame.
type Frame struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type EditPayload struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
	Caret   *int    `json:"caret"`
}

type CaretPayload struct {
	Caret int `json:"caret"`
}

type SharePayload struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type CommentPayload struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

type StatusPayload struct {
	Status string `json:"status"`
}

func errorFrame(id, kind string, err error) Frame {
	return Frame{ID: id, Type: kind, Payload: errors.From(err)}
}

func decode(msg Message, dest any) error {
	if len(msg.Payload) == 0 {
		return errors.InvalidInput("Missing payload", nil)
	}
	if err := json.Unmarshal(msg.Payload, dest); err != nil {
		return errors.InvalidInput("Invalid payload", err)
	}
	return nil
}
