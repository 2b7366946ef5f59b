package server

import (
	"context"
	"time"

	"github.com/huddlechat/huddle/pkg/database"
	"github.com/huddlechat/huddle/pkg/presence"
)

// AuthTokenService verifies an opaque client token and resolves the user id.
type AuthTokenService interface {
	Verify(token string) (int64, error)
}

// UserDirectory resolves a user id to its display identity.
type UserDirectory interface {
	GetUser(userID int64) (*database.User, error)
}

// RoomMembership answers the persisted authorization question "may this
// user enter this room" (distinct from live presence).
type RoomMembership interface {
	IsMember(roomID, userID int64) (bool, error)
}

// MessageStore owns persisted message state. MarkRead returns the ids that
// were newly marked so the broadcast carries exactly the delta.
type MessageStore interface {
	MarkRead(messageIDs []int64, readerID int64) ([]int64, error)
	MarkBurned(messageID, burnedBy int64) error
	ClearRoom(roomID int64) (int64, error)
	ReadersOf(messageID int64) ([]int64, error)
}

// PresenceStore is the shared cross-process presence mirror. All writes are
// best-effort: the in-process registry stays authoritative and a failing
// store never aborts a join or leave.
type PresenceStore interface {
	AddToRoom(ctx context.Context, roomID, userID int64, nickname string, joinedAt time.Time) error
	RemoveFromRoom(ctx context.Context, roomID, userID int64) error
	RoomUsers(ctx context.Context, roomID int64) ([]presence.Member, error)
}
