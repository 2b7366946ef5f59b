package server

// Broadcast delivery is best-effort: a write failure on one recipient is
// logged and skipped, never surfaced to the caller, and never affects
// delivery to the remaining recipients. A dead socket is fully cleaned up
// by its own read loop, not here.

// BroadcastToRoom delivers a payload to every live connection in the room,
// skipping excludeConnID if non-empty. Used so a sender's other devices
// still receive their own message while the originating socket gets no echo.
func (r *SessionRegistry) BroadcastToRoom(roomID int64, data []byte, excludeConnID string) int {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if sess.Room() != roomID || sess.ID == excludeConnID {
			continue
		}
		targets = append(targets, sess)
	}
	r.mu.RUnlock()

	return deliver(targets, data)
}

// BroadcastToRoomExcludingUser delivers a payload to every live connection
// in the room except all connections belonging to excludeUserID. Used for
// typing indicators and read receipts, where the acting user's own devices
// should not see their own action echoed.
func (r *SessionRegistry) BroadcastToRoomExcludingUser(roomID int64, data []byte, excludeUserID int64) int {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if sess.Room() != roomID {
			continue
		}
		userID, _, _ := sess.Identity()
		if sess.IsAuthenticated() && userID == excludeUserID {
			continue
		}
		targets = append(targets, sess)
	}
	r.mu.RUnlock()

	return deliver(targets, data)
}

func deliver(targets []*Session, data []byte) int {
	delivered := 0
	for _, sess := range targets {
		if err := sess.Conn.WriteText(data); err != nil {
			debugLog.Printf("session %s: broadcast write failed: %v", sess.ID, err)
			continue
		}
		delivered++
	}
	return delivered
}
