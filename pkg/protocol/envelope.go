package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed indicates the payload is not a valid JSON envelope.
	ErrMalformed = errors.New("malformed message envelope")
	// ErrMissingType indicates the envelope has no type discriminator.
	ErrMissingType = errors.New("missing message type")
	// ErrUnknownType indicates the type discriminator is not a known inbound kind.
	ErrUnknownType = errors.New("unknown message type")
)

// Inbound message type discriminators
const (
	TypeAuth            = "auth"
	TypeJoinRoom        = "join_room"
	TypeMessage         = "message"
	TypeTyping          = "typing"
	TypeMarkRead        = "mark_read"
	TypeMessageBurned   = "message_burned"
	TypePing            = "ping"
	TypeIntimacyRestart = "intimacy_restart"
)

// Inbound is the closed set of messages a client may send. DecodeInbound
// returns exactly one of the concrete types below, never anything else.
type Inbound interface {
	InboundType() string
}

// Auth carries the opaque token for the authentication handshake.
type Auth struct {
	Token string `json:"token"`
}

// JoinRoom asks to move this connection into a room.
type JoinRoom struct {
	RoomID int64 `json:"room_id"`
}

// ChatMessage is a chat message to relay to the sender's current room.
// MessageType and Metadata are passed through to the broadcast as-is.
type ChatMessage struct {
	MessageID   int64          `json:"message_id"`
	MessageType string         `json:"message_type"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Typing toggles the typing indicator for the sender's current room.
type Typing struct {
	Typing bool `json:"typing"`
}

// MarkRead acknowledges a batch of messages as read by the sender.
type MarkRead struct {
	MessageIDs []int64 `json:"message_ids"`
}

// BurnMessage marks a single message as burned by the sender.
type BurnMessage struct {
	MessageID int64 `json:"message_id"`
}

// Ping is the client half of the heartbeat exchange.
type Ping struct{}

// IntimacyRestart requests a reset-and-restart of the intimacy window.
type IntimacyRestart struct {
	RoomID int64 `json:"room_id"`
}

func (*Auth) InboundType() string            { return TypeAuth }
func (*JoinRoom) InboundType() string        { return TypeJoinRoom }
func (*ChatMessage) InboundType() string     { return TypeMessage }
func (*Typing) InboundType() string          { return TypeTyping }
func (*MarkRead) InboundType() string        { return TypeMarkRead }
func (*BurnMessage) InboundType() string     { return TypeMessageBurned }
func (*Ping) InboundType() string            { return TypePing }
func (*IntimacyRestart) InboundType() string { return TypeIntimacyRestart }

// DecodeInbound parses a wire payload into one of the known inbound
// message kinds. Unknown or missing discriminators are protocol errors;
// the caller replies with an error event and keeps the connection open.
func DecodeInbound(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Inbound
	switch env.Type {
	case TypeAuth:
		msg = &Auth{}
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypeMessage:
		msg = &ChatMessage{}
	case TypeTyping:
		msg = &Typing{}
	case TypeMarkRead:
		msg = &MarkRead{}
	case TypeMessageBurned:
		msg = &BurnMessage{}
	case TypePing:
		msg = &Ping{}
	case TypeIntimacyRestart:
		msg = &IntimacyRestart{}
	case "":
		return nil, ErrMissingType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}
