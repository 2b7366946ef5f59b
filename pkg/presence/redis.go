// Package presence mirrors room presence into Redis so that processes
// other than the socket server (e.g. plain HTTP request handlers) can see
// who is online. The in-process session registry stays authoritative; every
// write here is a best-effort, idempotent upsert keyed by room+user.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout:
//   presence:room:{roomID}                set of user ids online in the room
//   presence:room:{roomID}:user:{userID}  hash: nickname, joined_at
//   presence:user:{userID}                reverse pointer to the current room
const (
	roomSetKeyFmt  = "presence:room:%d"
	roomUserKeyFmt = "presence:room:%d:user:%d"
	userRoomKeyFmt = "presence:user:%d"
)

// Member is one user's presence entry as stored in the mirror.
type Member struct {
	UserID   int64
	Nickname string
	JoinedAt time.Time
}

// Store is the Redis-backed shared presence mirror. Every call is bounded
// by the configured timeout so a slow Redis can never stall a connection's
// event processing for more than a few seconds.
type Store struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewStore connects to Redis at addr. The timeout bounds every individual
// round-trip made through this store.
func NewStore(addr, password string, db int, timeout time.Duration) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{rdb: rdb, timeout: timeout}
}

// NewStoreWithClient wraps an existing client, for callers that share one
// pool across subsystems.
func NewStoreWithClient(rdb *redis.Client, timeout time.Duration) *Store {
	return &Store{rdb: rdb, timeout: timeout}
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Ping verifies connectivity. Callers treat failure as a warning, not a
// startup error: the mirror is best-effort.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}

// AddToRoom upserts the user into the room's mirror: set membership, the
// per-user hash, and the reverse pointer, in one pipeline.
func (s *Store) AddToRoom(ctx context.Context, roomID, userID int64, nickname string, joinedAt time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	pipe := s.rdb.Pipeline()
	pipe.SAdd(ctx, fmt.Sprintf(roomSetKeyFmt, roomID), userID)
	pipe.HSet(ctx, fmt.Sprintf(roomUserKeyFmt, roomID, userID),
		"nickname", nickname,
		"joined_at", joinedAt.UTC().Format(time.RFC3339),
	)
	pipe.Set(ctx, fmt.Sprintf(userRoomKeyFmt, userID), roomID, 0)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveFromRoom deletes the user's mirror entries for the room. The
// reverse pointer is only cleared when it still points at this room, so an
// out-of-order cleanup after a room switch cannot clobber the new room.
func (s *Store) RemoveFromRoom(ctx context.Context, roomID, userID int64) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	pipe := s.rdb.Pipeline()
	pipe.SRem(ctx, fmt.Sprintf(roomSetKeyFmt, roomID), userID)
	pipe.Del(ctx, fmt.Sprintf(roomUserKeyFmt, roomID, userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	current, err := s.rdb.Get(ctx, fmt.Sprintf(userRoomKeyFmt, userID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if current == strconv.FormatInt(roomID, 10) {
		return s.rdb.Del(ctx, fmt.Sprintf(userRoomKeyFmt, userID)).Err()
	}
	return nil
}

// RoomUserIDs returns the user ids mirrored for a room.
func (s *Store) RoomUserIDs(ctx context.Context, roomID int64) ([]int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	raw, err := s.rdb.SMembers(ctx, fmt.Sprintf(roomSetKeyFmt, roomID)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		id, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RoomUsers returns the full presence entries for a room, skipping members
// whose hash has gone missing (stale set entries are cleaned up lazily).
func (s *Store) RoomUsers(ctx context.Context, roomID int64) ([]Member, error) {
	ids, err := s.RoomUserIDs(ctx, roomID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		fields, err := s.rdb.HGetAll(ctx, fmt.Sprintf(roomUserKeyFmt, roomID, id)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			_ = s.rdb.SRem(ctx, fmt.Sprintf(roomSetKeyFmt, roomID), id).Err()
			continue
		}
		m := Member{UserID: id, Nickname: fields["nickname"]}
		if t, err := time.Parse(time.RFC3339, fields["joined_at"]); err == nil {
			m.JoinedAt = t
		}
		members = append(members, m)
	}
	return members, nil
}

// UserRoom returns the room the user is mirrored into, or 0 if none.
func (s *Store) UserRoom(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	raw, err := s.rdb.Get(ctx, fmt.Sprintf(userRoomKeyFmt, userID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}
