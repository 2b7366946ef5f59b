package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/huddlechat/huddle/pkg/protocol"
)

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":          "healthy",
		"uptime_seconds":  int64(time.Since(s.startTime).Seconds()),
		"active_sessions": s.registry.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		errorLog.Printf("error encoding health JSON: %v", err)
	}
}

// RoomOnlineHandler serves a room's online users from the shared presence
// mirror, so plain HTTP clients see presence without holding a socket.
// Falls back to the local registry when the mirror is disabled.
func (s *Server) RoomOnlineHandler(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(w, r)
	if !ok {
		return
	}

	type onlineUser struct {
		UserID   int64  `json:"user_id"`
		Nickname string `json:"nickname"`
		JoinedAt string `json:"joined_at,omitempty"`
	}
	var users []onlineUser

	if s.presence != nil {
		members, err := s.presence.RoomUsers(r.Context(), roomID)
		if err != nil {
			errorLog.Printf("presence read failed for room %d: %v", roomID, err)
			http.Error(w, "presence store unavailable", http.StatusServiceUnavailable)
			return
		}
		for _, m := range members {
			u := onlineUser{UserID: m.UserID, Nickname: m.Nickname}
			if !m.JoinedAt.IsZero() {
				u.JoinedAt = m.JoinedAt.UTC().Format(time.RFC3339)
			}
			users = append(users, u)
		}
	} else {
		for _, ru := range s.rooms.Roster(roomID) {
			users = append(users, onlineUser{UserID: ru.UserID, Nickname: ru.Nickname})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"room_id":      roomID,
		"users":        users,
		"online_count": len(users),
	}); err != nil {
		errorLog.Printf("error encoding online JSON: %v", err)
	}
}

// RoomIntimacyHandler serves the room's intimacy window state, consumed by
// the reward collaborator to validate collection attempts.
func (s *Server) RoomIntimacyHandler(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(w, r)
	if !ok {
		return
	}

	st, _ := s.rooms.IntimacySnapshot(roomID)
	resp := map[string]any{
		"room_id": roomID,
		"active":  st.Active,
	}
	if st.Active {
		resp["started_at"] = st.StartedAt.UTC().Format(time.RFC3339)
		resp["participants"] = []int64{st.Participants[0], st.Participants[1]}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		errorLog.Printf("error encoding intimacy JSON: %v", err)
	}
}

// RoomClearHandler wipes a room's message history through the message
// store and announces room_cleared to everyone in the room.
func (s *Server) RoomClearHandler(w http.ResponseWriter, r *http.Request) {
	roomID, ok := roomIDFromPath(w, r)
	if !ok {
		return
	}

	cleared, err := s.messages.ClearRoom(roomID)
	if err != nil {
		errorLog.Printf("room clear failed for room %d: %v", roomID, err)
		http.Error(w, "failed to clear room", http.StatusInternalServerError)
		return
	}

	s.broadcastToRoom(roomID, protocol.NewRoomCleared(roomID, time.Now().UTC()), "")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"room_id": roomID,
		"cleared": cleared,
	}); err != nil {
		errorLog.Printf("error encoding clear JSON: %v", err)
	}
}

// MessageReadersHandler serves the reader ids recorded for one message, so
// the web application can render read receipts without holding a socket.
func (s *Server) MessageReadersHandler(w http.ResponseWriter, r *http.Request) {
	messageID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || messageID <= 0 {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	readers, err := s.messages.ReadersOf(messageID)
	if err != nil {
		errorLog.Printf("readers lookup failed for message %d: %v", messageID, err)
		http.Error(w, "failed to load readers", http.StatusInternalServerError)
		return
	}
	if readers == nil {
		readers = []int64{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"message_id": messageID,
		"readers":    readers,
		"count":      len(readers),
	}); err != nil {
		errorLog.Printf("error encoding readers JSON: %v", err)
	}
}

func roomIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	roomID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || roomID <= 0 {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return 0, false
	}
	return roomID, true
}
