package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	TypeJoin = "join"
	TypeChat = "chat"
)

var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrMissingType = errors.New("envelope type is required")
	ErrMissingRoom = errors.New("roomId is required")
)

// Inbound is the envelope for messages coming from the client.
// Chat fields are kept raw so they are relayed exactly as sent.
type Inbound struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	ID        json.RawMessage `json:"id,omitempty"`
	Sender    json.RawMessage `json:"sender,omitempty"`
	Text      json.RawMessage `json:"text,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// Chat is the canonical outbound chat envelope.
type Chat struct {
	Type      string          `json:"type"`
	ID        json.RawMessage `json:"id,omitempty"`
	Sender    json.RawMessage `json:"sender,omitempty"`
	Text      json.RawMessage `json:"text,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	RoomID    string          `json:"roomId"`
}

// Decode parses a single transport frame into an Inbound envelope.
// Unknown types decode successfully; callers decide what to do with them.
// Frames that are not valid UTF-8 are malformed.
func Decode(raw []byte) (Inbound, error) {
	if !utf8.Valid(raw) {
		return Inbound{}, fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Type == "" {
		return Inbound{}, ErrMissingType
	}
	if in.Type == TypeJoin && in.RoomID == "" {
		return Inbound{}, ErrMissingRoom
	}
	return in, nil
}

// ChatFrom builds the outbound envelope for a chat sent into room.
func ChatFrom(in Inbound, room string) Chat {
	return Chat{
		Type:      TypeChat,
		ID:        in.ID,
		Sender:    in.Sender,
		Text:      in.Text,
		Timestamp: in.Timestamp,
		RoomID:    room,
	}
}

// Encode marshals the chat envelope into a single frame payload.
func (c Chat) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode chat: %w", err)
	}
	return data, nil
}

