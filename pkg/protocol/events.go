package protocol

import (
	"encoding/json"
	"time"
)

// Outbound event type discriminators
const (
	EventConnected       = "connected"
	EventAuthSuccess     = "auth_success"
	EventRoomJoined      = "room_joined"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventMessage         = "message"
	EventTyping          = "typing"
	EventMessageRead     = "message_read"
	EventMarkReadSuccess = "mark_read_success"
	EventMessageBurned   = "message_burned"
	EventRoomCleared     = "room_cleared"
	EventIntimacyStart   = "intimacy_start"
	EventIntimacyReset   = "intimacy_reset"
	EventPong            = "pong"
	EventError           = "error"
)

// Event is any outbound payload. Encode marshals it for the wire.
type Event interface {
	EventType() string
}

// Encode serializes an outbound event to its wire form.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// RoomUser is a presence snapshot of one user inside a room.
type RoomUser struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// Connected is sent once, immediately after the transport connect.
type Connected struct {
	Type   string `json:"type"`
	ConnID string `json:"conn_id"`
}

// AuthSuccess confirms the handshake and echoes the resolved identity.
type AuthSuccess struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

// RoomJoined confirms a join to the joining connection with the full
// online roster.
type RoomJoined struct {
	Type        string     `json:"type"`
	RoomID      int64      `json:"room_id"`
	Users       []RoomUser `json:"users"`
	OnlineCount int        `json:"online_count"`
}

// UserJoined announces a genuine user-level arrival to the rest of the room.
type UserJoined struct {
	Type        string `json:"type"`
	RoomID      int64  `json:"room_id"`
	UserID      int64  `json:"user_id"`
	Nickname    string `json:"nickname"`
	OnlineCount int    `json:"online_count"`
}

// UserLeft announces a genuine user-level departure.
type UserLeft struct {
	Type        string `json:"type"`
	RoomID      int64  `json:"room_id"`
	UserID      int64  `json:"user_id"`
	Nickname    string `json:"nickname"`
	OnlineCount int    `json:"online_count"`
}

// Message mirrors the inbound chat message plus sender identity and a
// server timestamp.
type Message struct {
	Type           string         `json:"type"`
	RoomID         int64          `json:"room_id"`
	MessageID      int64          `json:"message_id"`
	MessageType    string         `json:"message_type"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	SenderID       int64          `json:"sender_id"`
	SenderNickname string         `json:"sender_nickname"`
	SenderAvatar   string         `json:"sender_avatar"`
	SentAt         time.Time      `json:"sent_at"`
}

// TypingEvent relays a typing indicator to the room.
type TypingEvent struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Typing   bool   `json:"typing"`
}

// MessageRead announces newly-read messages to the room.
type MessageRead struct {
	Type           string    `json:"type"`
	MessageIDs     []int64   `json:"message_ids"`
	ReaderID       int64     `json:"reader_id"`
	ReaderNickname string    `json:"reader_nickname"`
	ReadAt         time.Time `json:"read_at"`
}

// MarkReadSuccess acknowledges a mark_read request to its sender.
type MarkReadSuccess struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// MessageBurned announces a burned message to the room.
type MessageBurned struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	BurnedBy  int64  `json:"burned_by"`
}

// RoomCleared announces that the room's history was wiped.
type RoomCleared struct {
	Type      string    `json:"type"`
	RoomID    int64     `json:"room_id"`
	ClearedAt time.Time `json:"cleared_at"`
}

// IntimacyStart announces a newly-opened intimacy window.
type IntimacyStart struct {
	Type   string `json:"type"`
	RoomID int64  `json:"room_id"`
}

// IntimacyReset announces that the intimacy window was torn down.
type IntimacyReset struct {
	Type   string `json:"type"`
	RoomID int64  `json:"room_id"`
}

// Pong is the server half of the heartbeat exchange.
type Pong struct {
	Type string `json:"type"`
}

// ErrorEvent carries a human-readable failure reason.
type ErrorEvent struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

func (e *Connected) EventType() string       { return e.Type }
func (e *AuthSuccess) EventType() string     { return e.Type }
func (e *RoomJoined) EventType() string      { return e.Type }
func (e *UserJoined) EventType() string      { return e.Type }
func (e *UserLeft) EventType() string        { return e.Type }
func (e *Message) EventType() string         { return e.Type }
func (e *TypingEvent) EventType() string     { return e.Type }
func (e *MessageRead) EventType() string     { return e.Type }
func (e *MarkReadSuccess) EventType() string { return e.Type }
func (e *MessageBurned) EventType() string   { return e.Type }
func (e *RoomCleared) EventType() string     { return e.Type }
func (e *IntimacyStart) EventType() string   { return e.Type }
func (e *IntimacyReset) EventType() string   { return e.Type }
func (e *Pong) EventType() string            { return e.Type }
func (e *ErrorEvent) EventType() string      { return e.Type }

// NewConnected builds the connection greeting.
func NewConnected(connID string) *Connected {
	return &Connected{Type: EventConnected, ConnID: connID}
}

// NewAuthSuccess builds the handshake confirmation.
func NewAuthSuccess(userID int64, nickname, avatar string) *AuthSuccess {
	return &AuthSuccess{Type: EventAuthSuccess, UserID: userID, Nickname: nickname, Avatar: avatar}
}

// NewRoomJoined builds the join confirmation with the online roster.
func NewRoomJoined(roomID int64, users []RoomUser) *RoomJoined {
	return &RoomJoined{Type: EventRoomJoined, RoomID: roomID, Users: users, OnlineCount: len(users)}
}

// NewUserJoined builds the user-level arrival announcement.
func NewUserJoined(roomID, userID int64, nickname string, onlineCount int) *UserJoined {
	return &UserJoined{Type: EventUserJoined, RoomID: roomID, UserID: userID, Nickname: nickname, OnlineCount: onlineCount}
}

// NewUserLeft builds the user-level departure announcement.
func NewUserLeft(roomID, userID int64, nickname string, onlineCount int) *UserLeft {
	return &UserLeft{Type: EventUserLeft, RoomID: roomID, UserID: userID, Nickname: nickname, OnlineCount: onlineCount}
}

// NewTyping builds the typing indicator relay.
func NewTyping(userID int64, nickname string, typing bool) *TypingEvent {
	return &TypingEvent{Type: EventTyping, UserID: userID, Nickname: nickname, Typing: typing}
}

// NewMessageRead builds the read-receipt announcement.
func NewMessageRead(messageIDs []int64, readerID int64, readerNickname string, readAt time.Time) *MessageRead {
	return &MessageRead{Type: EventMessageRead, MessageIDs: messageIDs, ReaderID: readerID, ReaderNickname: readerNickname, ReadAt: readAt}
}

// NewMarkReadSuccess builds the mark_read acknowledgement.
func NewMarkReadSuccess(count int64) *MarkReadSuccess {
	return &MarkReadSuccess{Type: EventMarkReadSuccess, Count: count}
}

// NewMessageBurned builds the burn announcement.
func NewMessageBurned(messageID, burnedBy int64) *MessageBurned {
	return &MessageBurned{Type: EventMessageBurned, MessageID: messageID, BurnedBy: burnedBy}
}

// NewRoomCleared builds the history-wipe announcement.
func NewRoomCleared(roomID int64, clearedAt time.Time) *RoomCleared {
	return &RoomCleared{Type: EventRoomCleared, RoomID: roomID, ClearedAt: clearedAt}
}

// NewIntimacyStart builds the window-open announcement.
func NewIntimacyStart(roomID int64) *IntimacyStart {
	return &IntimacyStart{Type: EventIntimacyStart, RoomID: roomID}
}

// NewIntimacyReset builds the window-teardown announcement.
func NewIntimacyReset(roomID int64) *IntimacyReset {
	return &IntimacyReset{Type: EventIntimacyReset, RoomID: roomID}
}

// NewPong builds the heartbeat reply.
func NewPong() *Pong {
	return &Pong{Type: EventPong}
}

// NewError builds an error event with a human-readable reason.
func NewError(msg string) *ErrorEvent {
	return &ErrorEvent{Type: EventError, Msg: msg}
}
