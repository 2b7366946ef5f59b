package server

import (
	"time"

	"github.com/huddlechat/huddle/pkg/protocol"
)

// IntimacyState tracks the two-party timed synchronization window for one
// room. It may be active only while the room's distinct online-user count
// is exactly 2; any deviation forces it inactive. State is created when a
// pair forms and dropped again once the room empties.
type IntimacyState struct {
	Active       bool
	StartedAt    time.Time
	Participants [2]int64
}

// evaluateIntimacyLocked re-checks the window against current membership.
// It runs on every membership change for the room, but transitions are
// edge-detected: re-checking an already-inactive room with count != 2 is a
// no-op, not a repeated broadcast.
func (rm *RoomManager) evaluateIntimacyLocked(roomID int64) {
	users := rm.registry.DistinctUserIDsInRoom(roomID)

	st := rm.intimacy[roomID]
	if st == nil {
		if len(users) != 2 {
			return
		}
		st = &IntimacyState{}
		rm.intimacy[roomID] = st
	}

	switch {
	case !st.Active && len(users) == 2:
		st.Active = true
		st.StartedAt = time.Now().UTC()
		st.Participants = [2]int64{users[0], users[1]}
		rm.broadcastLocked(roomID, protocol.NewIntimacyStart(roomID), "")
		if rm.metrics != nil {
			rm.metrics.RecordIntimacyStart()
		}
		debugLog.Printf("room %d: intimacy started between %d and %d", roomID, users[0], users[1])

	case st.Active && len(users) != 2:
		st.Active = false
		rm.broadcastLocked(roomID, protocol.NewIntimacyReset(roomID), "")
		if rm.metrics != nil {
			rm.metrics.RecordIntimacyReset()
		}
		debugLog.Printf("room %d: intimacy reset (online count %d)", roomID, len(users))
	}

	// Drop the entry once the room is empty so evaluated rooms do not
	// accumulate over the server's lifetime.
	if !st.Active && len(users) == 0 {
		delete(rm.intimacy, roomID)
	}
}

// RestartIntimacy force-resets the window and immediately re-runs the
// activation check, so a still-qualified pair gets a fresh start time. A
// request from a connection not currently in the room is ignored.
func (rm *RoomManager) RestartIntimacy(sess *Session, roomID int64) {
	if sess.Room() != roomID {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if st := rm.intimacy[roomID]; st != nil && st.Active {
		st.Active = false
		rm.broadcastLocked(roomID, protocol.NewIntimacyReset(roomID), "")
		if rm.metrics != nil {
			rm.metrics.RecordIntimacyReset()
		}
	}
	rm.evaluateIntimacyLocked(roomID)
}

// IntimacySnapshot returns a copy of the room's window state, so the
// reward collaborator can validate that a collection attempt comes from
// one of the two participants.
func (rm *RoomManager) IntimacySnapshot(roomID int64) (IntimacyState, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	st := rm.intimacy[roomID]
	if st == nil {
		return IntimacyState{}, false
	}
	return *st, true
}
