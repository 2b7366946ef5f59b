package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/huddlechat/huddle/pkg/protocol"
)

// RoomManager moves sessions between rooms, keeps the shared presence
// mirror converged with the local registry, decides when join/leave
// notifications are genuine user-level transitions, and drives the
// intimacy state machine. Its mutex serializes every membership change so
// distinct-user counting and intimacy transitions stay race-free even with
// one reader goroutine per connection.
type RoomManager struct {
	mu       sync.Mutex
	registry *SessionRegistry
	presence PresenceStore
	members  RoomMembership
	intimacy map[int64]*IntimacyState
	metrics  *Metrics
}

// NewRoomManager creates a room manager. presence may be nil, in which
// case the mirror is disabled and all presence reads fall back to the
// local registry.
func NewRoomManager(registry *SessionRegistry, presence PresenceStore, members RoomMembership) *RoomManager {
	return &RoomManager{
		registry: registry,
		presence: presence,
		members:  members,
		intimacy: make(map[int64]*IntimacyState),
	}
}

// SetMetrics attaches metrics to the room manager.
func (rm *RoomManager) SetMetrics(metrics *Metrics) {
	rm.metrics = metrics
}

// Join moves the session into roomID. The session must be authenticated
// and the user must be a persisted member of the room; a session already
// in a different room leaves it first. Joining the current room again is
// an idempotent refresh that resends the roster.
func (rm *RoomManager) Join(ctx context.Context, sess *Session, roomID int64) error {
	if !sess.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if roomID <= 0 {
		return ErrInvalidRoom
	}

	userID, nickname, _ := sess.Identity()
	ok, err := rm.members.IsMember(roomID, userID)
	if err != nil {
		// The membership collaborator is the primary authority for this
		// action; if it is down the join is rejected, not degraded.
		return fmt.Errorf("membership check failed: %w", err)
	}
	if !ok {
		return ErrNotAMember
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if sess.Room() == roomID {
		rm.mirrorJoin(ctx, roomID, userID, nickname)
		rm.sendRoster(sess, roomID)
		rm.evaluateIntimacyLocked(roomID)
		return nil
	}

	if old := sess.Room(); old != 0 {
		rm.leaveLocked(ctx, sess, old)
	}

	alreadyInRoom := rm.registry.UserHasOtherSessionInRoom(roomID, userID, sess.ID)
	rm.registry.SetRoom(sess.ID, roomID)
	rm.mirrorJoin(ctx, roomID, userID, nickname)
	rm.sendRoster(sess, roomID)

	if !alreadyInRoom {
		count := len(rm.registry.DistinctUserIDsInRoom(roomID))
		rm.broadcastLocked(roomID, protocol.NewUserJoined(roomID, userID, nickname, count), sess.ID)
		if rm.metrics != nil {
			rm.metrics.RecordRoomOnline(roomID, count)
		}
	}

	rm.evaluateIntimacyLocked(roomID)
	return nil
}

// Leave removes the session from roomID. A no-op when the session is not
// in that room.
func (rm *RoomManager) Leave(ctx context.Context, sess *Session, roomID int64) {
	if sess.Room() != roomID {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.leaveLocked(ctx, sess, roomID)
}

// leaveLocked clears the session's room, mirrors the departure and
// broadcasts user_left when this was the user's last device in the room,
// and always re-evaluates the intimacy machine for the vacated room.
func (rm *RoomManager) leaveLocked(ctx context.Context, sess *Session, roomID int64) {
	userID, nickname, _ := sess.Identity()
	rm.registry.SetRoom(sess.ID, 0)

	if !rm.registry.UserHasOtherSessionInRoom(roomID, userID, sess.ID) {
		rm.mirrorLeave(ctx, roomID, userID)
		count := len(rm.registry.DistinctUserIDsInRoom(roomID))
		rm.broadcastLocked(roomID, protocol.NewUserLeft(roomID, userID, nickname, count), sess.ID)
		if rm.metrics != nil {
			rm.metrics.RecordRoomOnline(roomID, count)
		}
	}

	rm.evaluateIntimacyLocked(roomID)
}

// Disconnect removes the session from the registry and performs room
// cleanup as a single step under the manager mutex. Holding the lock
// across the remove and the last-device check keeps user_left exactly-once
// when two devices of the same user disconnect at the same time. Store
// failures are logged, never propagated.
func (rm *RoomManager) Disconnect(ctx context.Context, connID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	prior, ok := rm.registry.Remove(connID)
	if !ok {
		return
	}
	roomID := prior.Room()
	if roomID == 0 {
		return
	}

	userID, nickname, _ := prior.Identity()
	if !rm.registry.UserHasOtherSessionInRoom(roomID, userID, prior.ID) {
		rm.mirrorLeave(ctx, roomID, userID)
		count := len(rm.registry.DistinctUserIDsInRoom(roomID))
		rm.broadcastLocked(roomID, protocol.NewUserLeft(roomID, userID, nickname, count), prior.ID)
		if rm.metrics != nil {
			rm.metrics.RecordRoomOnline(roomID, count)
		}
	}

	rm.evaluateIntimacyLocked(roomID)
}

// Roster returns one presence entry per distinct online user in the room,
// computed from the local registry (authoritative), ordered by user id.
func (rm *RoomManager) Roster(roomID int64) []protocol.RoomUser {
	byUser := make(map[int64]protocol.RoomUser)
	for _, s := range rm.registry.ByRoom(roomID) {
		if !s.IsAuthenticated() {
			continue
		}
		id, nickname, avatar := s.Identity()
		if _, ok := byUser[id]; !ok {
			byUser[id] = protocol.RoomUser{UserID: id, Nickname: nickname, Avatar: avatar}
		}
	}

	users := make([]protocol.RoomUser, 0, len(byUser))
	for _, id := range rm.registry.DistinctUserIDsInRoom(roomID) {
		if u, ok := byUser[id]; ok {
			users = append(users, u)
		}
	}
	return users
}

func (rm *RoomManager) sendRoster(sess *Session, roomID int64) {
	ev := protocol.NewRoomJoined(roomID, rm.Roster(roomID))
	data, err := protocol.Encode(ev)
	if err != nil {
		errorLog.Printf("failed to encode room_joined: %v", err)
		return
	}
	if err := sess.Conn.WriteText(data); err != nil {
		debugLog.Printf("session %s: room_joined write failed: %v", sess.ID, err)
	}
}

// mirrorJoin upserts the user into the shared presence store. Best-effort:
// a store failure is logged and counted, the join proceeds on local state.
func (rm *RoomManager) mirrorJoin(ctx context.Context, roomID, userID int64, nickname string) {
	if rm.presence == nil {
		return
	}
	if err := rm.presence.AddToRoom(ctx, roomID, userID, nickname, time.Now().UTC()); err != nil {
		errorLog.Printf("presence mirror add failed (room %d, user %d): %v", roomID, userID, err)
		if rm.metrics != nil {
			rm.metrics.RecordPresenceFailure()
		}
	}
}

func (rm *RoomManager) mirrorLeave(ctx context.Context, roomID, userID int64) {
	if rm.presence == nil {
		return
	}
	if err := rm.presence.RemoveFromRoom(ctx, roomID, userID); err != nil {
		errorLog.Printf("presence mirror remove failed (room %d, user %d): %v", roomID, userID, err)
		if rm.metrics != nil {
			rm.metrics.RecordPresenceFailure()
		}
	}
}

func (rm *RoomManager) broadcastLocked(roomID int64, ev protocol.Event, excludeConnID string) {
	data, err := protocol.Encode(ev)
	if err != nil {
		errorLog.Printf("failed to encode %s: %v", ev.EventType(), err)
		return
	}
	delivered := rm.registry.BroadcastToRoom(roomID, data, excludeConnID)
	if rm.metrics != nil {
		rm.metrics.RecordBroadcastFanout(ev.EventType(), delivered)
	}
}
