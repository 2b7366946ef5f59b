package server

import (
	"encoding/json"
	"errors"
	"testing"
)

func jsonMarkRead(ids []int64) []byte {
	data, _ := json.Marshal(map[string]any{"type": "mark_read", "message_ids": ids})
	return data
}

func readIDs(t *testing.T, ev map[string]any) []int64 {
	t.Helper()
	raw, _ := ev["message_ids"].([]any)
	out := make([]int64, len(raw))
	for i, v := range raw {
		out[i] = int64(v.(float64))
	}
	return out
}

func TestMarkReadRequiresAuth(t *testing.T) {
	srv, _ := testServer(t)
	sess, conn := connect(srv)

	if err := srv.handleRaw(sess, jsonMarkRead([]int64{1})); err != nil {
		t.Fatalf("handleRaw: %v", err)
	}
	if conn.countType(t, "error") != 1 {
		t.Error("unauthenticated mark_read should be rejected")
	}
	if conn.countType(t, "mark_read_success") != 0 {
		t.Error("no ack on rejection")
	}
}

func TestMarkReadRequiresRoom(t *testing.T) {
	srv, _ := testServer(t)
	sess, conn := connectAs(t, srv, "alice-token")

	if err := srv.handleRaw(sess, jsonMarkRead([]int64{1})); err != nil {
		t.Fatalf("handleRaw: %v", err)
	}
	errs := conn.eventsOfType(t, "error")
	if len(errs) != 1 || errs[0]["msg"] != "join a room first" {
		t.Fatalf("expected room rejection, got %v", errs)
	}
}

func TestMarkReadBroadcastsDelta(t *testing.T) {
	srv, fx := testServer(t)

	aliceSess, aliceConn := connectAs(t, srv, "alice-token")
	join(t, srv, aliceSess, aliceConn, 1)
	bobSess, bobConn := connectAs(t, srv, "bob-token")
	join(t, srv, bobSess, bobConn, 1)
	aliceConn.reset()
	bobConn.reset()

	// First batch: everything is newly marked
	if err := srv.handleRaw(bobSess, jsonMarkRead([]int64{1, 2, 3})); err != nil {
		t.Fatalf("handleRaw: %v", err)
	}

	acks := bobConn.eventsOfType(t, "mark_read_success")
	if len(acks) != 1 || acks[0]["count"] != float64(3) {
		t.Fatalf("expected ack with count 3, got %v", acks)
	}
	reads := aliceConn.eventsOfType(t, "message_read")
	if len(reads) != 1 {
		t.Fatalf("expected 1 message_read on alice's conn, got %d", len(reads))
	}
	if ids := readIDs(t, reads[0]); len(ids) != 3 {
		t.Errorf("expected 3 ids, got %v", ids)
	}
	if reads[0]["reader_id"] != float64(2) {
		t.Errorf("unexpected reader: %v", reads[0]["reader_id"])
	}
	aliceConn.reset()
	bobConn.reset()

	// Overlapping batch: only message 4 is new
	if err := srv.handleRaw(bobSess, jsonMarkRead([]int64{2, 3, 4})); err != nil {
		t.Fatalf("handleRaw: %v", err)
	}

	acks = bobConn.eventsOfType(t, "mark_read_success")
	if len(acks) != 1 || acks[0]["count"] != float64(1) {
		t.Fatalf("expected ack with count 1, got %v", acks)
	}
	reads = aliceConn.eventsOfType(t, "message_read")
	if len(reads) != 1 {
		t.Fatalf("expected 1 message_read, got %d", len(reads))
	}
	if ids := readIDs(t, reads[0]); len(ids) != 1 || ids[0] != 4 {
		t.Errorf("broadcast should carry only the newly-marked id, got %v", ids)
	}

	if len(fx.messages.markCalls) != 2 {
		t.Errorf("expected 2 store calls, got %d", len(fx.messages.markCalls))
	}
}

func TestMarkReadFullyRedundantBatchStillAcks(t *testing.T) {
	srv, _ := testServer(t)

	aliceSess, aliceConn := connectAs(t, srv, "alice-token")
	join(t, srv, aliceSess, aliceConn, 1)
	bobSess, bobConn := connectAs(t, srv, "bob-token")
	join(t, srv, bobSess, bobConn, 1)

	if err := srv.handleRaw(bobSess, jsonMarkRead([]int64{1, 2})); err != nil {
		t.Fatalf("handleRaw: %v", err)
	}
	aliceConn.reset()
	bobConn.reset()

	// Same batch again: ack with zero, no broadcast
	if err := srv.handleRaw(bobSess, jsonMarkRead([]int64{1, 2})); err != nil {
		t.Fatalf("handleRaw: %v", err)
	}

	acks := bobConn.eventsOfType(t, "mark_read_success")
	if len(acks) != 1 || acks[0]["count"] != float64(0) {
		t.Fatalf("expected ack with count 0, got %v", acks)
	}
	if aliceConn.countType(t, "message_read") != 0 {
		t.Error("redundant batch must not broadcast")
	}
}

func TestMarkReadDeduplicatesBatch(t *testing.T) {
	srv, fx := testServer(t)

	sess, conn := connectAs(t, srv, "alice-token")
	join(t, srv, sess, conn, 1)

	if err := srv.handleRaw(sess, jsonMarkRead([]int64{5, 5, 6, 5})); err != nil {
		t.Fatalf("handleRaw: %v", err)
	}

	if len(fx.messages.markCalls) != 1 {
		t.Fatalf("expected 1 store call, got %d", len(fx.messages.markCalls))
	}
	call := fx.messages.markCalls[0]
	if len(call) != 2 || call[0] != 5 || call[1] != 6 {
		t.Errorf("store should receive deduplicated ids in order, got %v", call)
	}
}

func TestMarkReadExcludesReadersOwnDevices(t *testing.T) {
	srv, _ := testServer(t)

	aliceSess, aliceConn := connectAs(t, srv, "alice-token")
	join(t, srv, aliceSess, aliceConn, 1)
	bob1Sess, bob1Conn := connectAs(t, srv, "bob-token")
	join(t, srv, bob1Sess, bob1Conn, 1)
	bob2Sess, bob2Conn := connectAs(t, srv, "bob-token")
	join(t, srv, bob2Sess, bob2Conn, 1)
	aliceConn.reset()
	bob1Conn.reset()
	bob2Conn.reset()

	if err := srv.handleRaw(bob1Sess, jsonMarkRead([]int64{1})); err != nil {
		t.Fatalf("handleRaw: %v", err)
	}

	if aliceConn.countType(t, "message_read") != 1 {
		t.Error("other users should see the receipt")
	}
	if bob1Conn.countType(t, "message_read") != 0 {
		t.Error("reader's own socket must not see the receipt")
	}
	if bob2Conn.countType(t, "message_read") != 0 {
		t.Error("reader's other device must not see the receipt")
	}
}

func TestMarkReadStoreFailure(t *testing.T) {
	srv, fx := testServer(t)
	fx.messages.readErr = errors.New("disk full")

	sess, conn := connectAs(t, srv, "alice-token")
	join(t, srv, sess, conn, 1)
	conn.reset()

	if err := srv.handleRaw(sess, jsonMarkRead([]int64{1})); err != nil {
		t.Fatalf("handleRaw: %v", err)
	}

	if conn.countType(t, "error") != 1 {
		t.Error("store failure should produce an error event")
	}
	if conn.countType(t, "mark_read_success") != 0 {
		t.Error("no ack on store failure")
	}
}
