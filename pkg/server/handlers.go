package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huddlechat/huddle/pkg/database"
	"github.com/huddlechat/huddle/pkg/protocol"
)

// handleRaw decodes one inbound payload and dispatches it. Malformed or
// unknown envelopes get an error reply; the connection stays open.
func (s *Server) handleRaw(sess *Session, data []byte) error {
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		debugLog.Printf("session %s: protocol error: %v", sess.ID, err)
		return s.sendError(sess, errorMessage(err))
	}

	if s.metrics != nil {
		s.metrics.RecordMessageReceived(msg.InboundType())
	}
	return s.handleMessage(sess, msg)
}

// handleMessage dispatches a decoded inbound message to its handler.
func (s *Server) handleMessage(sess *Session, msg protocol.Inbound) error {
	switch m := msg.(type) {
	case *protocol.Auth:
		return s.handleAuth(sess, m)
	case *protocol.JoinRoom:
		return s.handleJoinRoom(sess, m)
	case *protocol.ChatMessage:
		return s.handleChatMessage(sess, m)
	case *protocol.Typing:
		return s.handleTyping(sess, m)
	case *protocol.MarkRead:
		return s.handleMarkRead(sess, m)
	case *protocol.BurnMessage:
		return s.handleBurnMessage(sess, m)
	case *protocol.Ping:
		return s.sendEvent(sess, protocol.NewPong())
	case *protocol.IntimacyRestart:
		s.rooms.RestartIntimacy(sess, m.RoomID)
		return nil
	default:
		return s.sendError(sess, "unsupported message")
	}
}

// handleAuth runs the authentication handshake. A failed attempt leaves
// the session unauthenticated but the connection open so the client can
// retry; a repeat auth on an authenticated session overwrites identity
// (token refresh without reconnect).
func (s *Server) handleAuth(sess *Session, msg *protocol.Auth) error {
	if msg.Token == "" {
		return s.sendError(sess, "empty token")
	}

	userID, err := s.tokens.Verify(msg.Token)
	if err != nil {
		debugLog.Printf("session %s: token rejected: %v", sess.ID, err)
		return s.sendError(sess, errorMessage(err))
	}

	user, err := s.users.GetUser(userID)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return s.sendError(sess, "user not found")
		}
		errorLog.Printf("session %s: user lookup failed: %v", sess.ID, err)
		return s.sendError(sess, "user lookup failed")
	}

	s.registry.SetIdentity(sess.ID, user.ID, user.Nickname, user.AvatarURL)
	debugLog.Printf("session %s: authenticated as user %d (%s)", sess.ID, user.ID, user.Nickname)

	return s.sendEvent(sess, protocol.NewAuthSuccess(user.ID, user.Nickname, user.AvatarURL))
}

// handleJoinRoom moves the session into a room.
func (s *Server) handleJoinRoom(sess *Session, msg *protocol.JoinRoom) error {
	if err := s.rooms.Join(context.Background(), sess, msg.RoomID); err != nil {
		debugLog.Printf("session %s: join room %d rejected: %v", sess.ID, msg.RoomID, err)
		return s.sendError(sess, errorMessage(err))
	}
	return nil
}

// handleChatMessage relays a chat message to the sender's room. The
// payload is trusted from the client envelope and enriched with sender
// identity and a server timestamp; the originating socket gets no echo but
// the sender's other devices do.
func (s *Server) handleChatMessage(sess *Session, msg *protocol.ChatMessage) error {
	if !sess.IsAuthenticated() {
		return s.sendError(sess, errorMessage(ErrNotAuthenticated))
	}
	roomID := sess.Room()
	if roomID == 0 {
		return s.sendError(sess, errorMessage(ErrNotInRoom))
	}
	if len(msg.Content) > s.config.MaxMessageLength {
		return s.sendError(sess, fmt.Sprintf("message too long (max %d bytes)", s.config.MaxMessageLength))
	}

	userID, nickname, avatar := sess.Identity()
	ev := &protocol.Message{
		Type:           protocol.EventMessage,
		RoomID:         roomID,
		MessageID:      msg.MessageID,
		MessageType:    msg.MessageType,
		Content:        msg.Content,
		Metadata:       msg.Metadata,
		SenderID:       userID,
		SenderNickname: nickname,
		SenderAvatar:   avatar,
		SentAt:         time.Now().UTC(),
	}
	s.broadcastToRoom(roomID, ev, sess.ID)
	return nil
}

// handleTyping relays a typing indicator to everyone in the room except
// the typist's own devices.
func (s *Server) handleTyping(sess *Session, msg *protocol.Typing) error {
	if !sess.IsAuthenticated() {
		return s.sendError(sess, errorMessage(ErrNotAuthenticated))
	}
	roomID := sess.Room()
	if roomID == 0 {
		return s.sendError(sess, errorMessage(ErrNotInRoom))
	}

	userID, nickname, _ := sess.Identity()
	s.broadcastExcludingUser(roomID, protocol.NewTyping(userID, nickname, msg.Typing), userID)
	return nil
}

// handleMarkRead processes a read-receipt batch and always acknowledges,
// even when nothing was newly marked.
func (s *Server) handleMarkRead(sess *Session, msg *protocol.MarkRead) error {
	ack, err := s.receipts.MarkRead(sess, msg.MessageIDs)
	if err != nil {
		debugLog.Printf("session %s: mark_read rejected: %v", sess.ID, err)
		return s.sendError(sess, errorMessage(err))
	}
	return s.sendEvent(sess, ack)
}

// handleBurnMessage records a burn and announces it to the room. The
// burner's other devices are notified; the originating socket is not.
func (s *Server) handleBurnMessage(sess *Session, msg *protocol.BurnMessage) error {
	if !sess.IsAuthenticated() {
		return s.sendError(sess, errorMessage(ErrNotAuthenticated))
	}
	roomID := sess.Room()
	if roomID == 0 {
		return s.sendError(sess, errorMessage(ErrNotInRoom))
	}

	userID, _, _ := sess.Identity()
	if err := s.messages.MarkBurned(msg.MessageID, userID); err != nil {
		debugLog.Printf("session %s: burn of message %d rejected: %v", sess.ID, msg.MessageID, err)
		return s.sendError(sess, errorMessage(err))
	}

	s.broadcastToRoom(roomID, protocol.NewMessageBurned(msg.MessageID, userID), sess.ID)
	return nil
}

// sendEvent sends one outbound event to a single session.
func (s *Server) sendEvent(sess *Session, ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ev.EventType(), err)
	}
	if s.metrics != nil {
		s.metrics.RecordMessageSent(ev.EventType())
	}
	return sess.Conn.WriteText(data)
}

// sendError sends an error event with a human-readable reason.
func (s *Server) sendError(sess *Session, msg string) error {
	return s.sendEvent(sess, protocol.NewError(msg))
}

func (s *Server) broadcastToRoom(roomID int64, ev protocol.Event, excludeConnID string) {
	data, err := protocol.Encode(ev)
	if err != nil {
		errorLog.Printf("failed to encode %s: %v", ev.EventType(), err)
		return
	}
	delivered := s.registry.BroadcastToRoom(roomID, data, excludeConnID)
	if s.metrics != nil {
		s.metrics.RecordBroadcastFanout(ev.EventType(), delivered)
	}
}

func (s *Server) broadcastExcludingUser(roomID int64, ev protocol.Event, excludeUserID int64) {
	data, err := protocol.Encode(ev)
	if err != nil {
		errorLog.Printf("failed to encode %s: %v", ev.EventType(), err)
		return
	}
	delivered := s.registry.BroadcastToRoomExcludingUser(roomID, data, excludeUserID)
	if s.metrics != nil {
		s.metrics.RecordBroadcastFanout(ev.EventType(), delivered)
	}
}
