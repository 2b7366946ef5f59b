package server

import (
	"net"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Conn is the transport-level connection a session writes to.
type Conn interface {
	WriteText(data []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// Session represents one live client connection: its auth state, identity
// snapshot, and the single room it currently occupies (0 = none).
type Session struct {
	ID   string
	Conn Conn

	mu            sync.RWMutex
	authenticated bool
	userID        int64
	nickname      string
	avatarURL     string
	roomID        int64
}

// IsAuthenticated reports whether the handshake has completed.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Identity returns the user id, nickname and avatar snapshot.
func (s *Session) Identity() (int64, string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.nickname, s.avatarURL
}

// Room returns the room this session currently occupies, 0 if none.
func (s *Session) Room() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// SessionRegistry is the process-local table of live sessions and the
// single source of truth for fan-out. All mutation goes through its mutex;
// nothing here is persisted or visible to other processes.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *Metrics
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
	}
}

// SetMetrics attaches metrics to the registry.
func (r *SessionRegistry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Create registers a new unauthenticated session for a connection.
func (r *SessionRegistry) Create(conn Conn) *Session {
	sess := &Session{
		ID:   uuid.NewString(),
		Conn: conn,
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveSessions(count)
		r.metrics.RecordSessionCreated()
	}
	return sess
}

// Get returns a session by connection id.
func (r *SessionRegistry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connID]
	return sess, ok
}

// SetIdentity populates a session's identity after a successful handshake.
// A no-op if the session no longer exists.
func (r *SessionRegistry) SetIdentity(connID string, userID int64, nickname, avatarURL string) {
	sess, ok := r.Get(connID)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.authenticated = true
	sess.userID = userID
	sess.nickname = nickname
	sess.avatarURL = avatarURL
	sess.mu.Unlock()
}

// SetRoom moves a session into a room (0 clears it). A no-op if the
// session no longer exists.
func (r *SessionRegistry) SetRoom(connID string, roomID int64) {
	sess, ok := r.Get(connID)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.roomID = roomID
	sess.mu.Unlock()
}

// Remove deletes a session and returns its prior state for cleanup.
func (r *SessionRegistry) Remove(connID string) (*Session, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[connID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.sessions, connID)
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveSessions(count)
		r.metrics.RecordSessionDisconnected()
	}
	return sess, true
}

// ByRoom returns every session currently occupying a room.
func (r *SessionRegistry) ByRoom(roomID int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, sess := range r.sessions {
		if sess.Room() == roomID {
			out = append(out, sess)
		}
	}
	return out
}

// ByUser returns every session belonging to a user (multi-device).
func (r *SessionRegistry) ByUser(userID int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, sess := range r.sessions {
		id, _, _ := sess.Identity()
		if sess.IsAuthenticated() && id == userID {
			out = append(out, sess)
		}
	}
	return out
}

// DistinctUserIDsInRoom returns the distinct authenticated user ids with at
// least one session in the room, sorted ascending. A user with two devices
// in the same room contributes one entry.
func (r *SessionRegistry) DistinctUserIDsInRoom(roomID int64) []int64 {
	r.mu.RLock()
	seen := make(map[int64]bool)
	for _, sess := range r.sessions {
		if sess.Room() != roomID || !sess.IsAuthenticated() {
			continue
		}
		id, _, _ := sess.Identity()
		seen[id] = true
	}
	r.mu.RUnlock()

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// UserHasOtherSessionInRoom reports whether a different connection of the
// same user already occupies the room. Used to suppress duplicate join and
// leave notifications for multi-device users.
func (r *SessionRegistry) UserHasOtherSessionInRoom(roomID, userID int64, excludeConnID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sess := range r.sessions {
		if sess.ID == excludeConnID || sess.Room() != roomID {
			continue
		}
		id, _, _ := sess.Identity()
		if sess.IsAuthenticated() && id == userID {
			return true
		}
	}
	return false
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every connection and empties the registry.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sess := range r.sessions {
		sess.Conn.Close()
	}
	r.sessions = make(map[string]*Session)
}
