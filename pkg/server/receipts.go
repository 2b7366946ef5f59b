package server

import (
	"fmt"
	"time"

	"github.com/huddlechat/huddle/pkg/protocol"
)

// ReadReceipts handles mark_read batches: deduplicate, delegate persistence
// to the message store, and fan out the newly-marked delta to the room
// while keeping the reader's own devices out of the broadcast. Idempotent
// under repeated or overlapping id sets.
type ReadReceipts struct {
	messages MessageStore
	registry *SessionRegistry
	metrics  *Metrics
}

// NewReadReceipts creates the aggregator.
func NewReadReceipts(messages MessageStore, registry *SessionRegistry) *ReadReceipts {
	return &ReadReceipts{messages: messages, registry: registry}
}

// SetMetrics attaches metrics to the aggregator.
func (rr *ReadReceipts) SetMetrics(metrics *Metrics) {
	rr.metrics = metrics
}

// MarkRead processes one batch for an authenticated, room-joined session
// and returns the acknowledgement to send back, which carries the count of
// newly-marked messages (possibly zero).
func (rr *ReadReceipts) MarkRead(sess *Session, messageIDs []int64) (*protocol.MarkReadSuccess, error) {
	if !sess.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	roomID := sess.Room()
	if roomID == 0 {
		return nil, ErrNotInRoom
	}

	readerID, nickname, _ := sess.Identity()
	ids := dedupeIDs(messageIDs)

	marked, err := rr.messages.MarkRead(ids, readerID)
	if err != nil {
		return nil, fmt.Errorf("mark read failed: %w", err)
	}

	if len(marked) > 0 {
		ev := protocol.NewMessageRead(marked, readerID, nickname, time.Now().UTC())
		data, err := protocol.Encode(ev)
		if err != nil {
			errorLog.Printf("failed to encode message_read: %v", err)
		} else {
			delivered := rr.registry.BroadcastToRoomExcludingUser(roomID, data, readerID)
			if rr.metrics != nil {
				rr.metrics.RecordBroadcastFanout(protocol.EventMessageRead, delivered)
			}
		}
	}

	return protocol.NewMarkReadSuccess(int64(len(marked))), nil
}

// dedupeIDs drops duplicate ids, preserving first-seen order.
func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
