package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/huddlechat/huddle/pkg/auth"
	"github.com/huddlechat/huddle/pkg/database"
	"github.com/huddlechat/huddle/pkg/presence"
)

// initTestLoggers discards log output during tests to keep output clean
func initTestLoggers() {
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
}

// mockAddr implements net.Addr for testing
type mockAddr struct{}

func (mockAddr) Network() string { return "tcp" }
func (mockAddr) String() string  { return "127.0.0.1:12345" }

// mockConn implements Conn and records every frame written to it
type mockConn struct {
	mu         sync.Mutex
	frames     [][]byte
	failWrites bool
	closed     bool
}

func newMockConn() *mockConn {
	return &mockConn{}
}

func (c *mockConn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites {
		return errors.New("write failed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *mockConn) RemoteAddr() net.Addr { return mockAddr{} }

// events decodes every captured frame into a generic map
func (c *mockConn) events(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.frames))
	for _, frame := range c.frames {
		var ev map[string]any
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("captured frame is not valid JSON: %v (%s)", err, frame)
		}
		out = append(out, ev)
	}
	return out
}

// eventsOfType returns the captured events with the given type tag
func (c *mockConn) eventsOfType(t *testing.T, eventType string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ev := range c.events(t) {
		if ev["type"] == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// countType returns how many captured events carry the given type tag
func (c *mockConn) countType(t *testing.T, eventType string) int {
	t.Helper()
	return len(c.eventsOfType(t, eventType))
}

// typeSequence returns the ordered type tags of all captured events
func (c *mockConn) typeSequence(t *testing.T) []string {
	t.Helper()
	evs := c.events(t)
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i], _ = ev["type"].(string)
	}
	return out
}

func (c *mockConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// fakeTokens maps token strings to user ids
type fakeTokens struct {
	tokens map[string]int64
}

func (f *fakeTokens) Verify(token string) (int64, error) {
	if token == "" {
		return 0, auth.ErrEmptyToken
	}
	id, ok := f.tokens[token]
	if !ok {
		return 0, auth.ErrInvalidToken
	}
	return id, nil
}

// fakeUsers is an in-memory user directory
type fakeUsers struct {
	users map[int64]*database.User
}

func (f *fakeUsers) GetUser(userID int64) (*database.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, database.ErrUserNotFound
	}
	return u, nil
}

// fakeMembers is an in-memory room membership table
type fakeMembers struct {
	members map[[2]int64]bool // (roomID, userID)
	err     error
}

func (f *fakeMembers) IsMember(roomID, userID int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.members[[2]int64{roomID, userID}], nil
}

// fakeMessages records mark-read and burn calls
type fakeMessages struct {
	mu         sync.Mutex
	read       map[[2]int64]bool // (messageID, readerID)
	burned     map[int64]int64   // messageID -> burnedBy
	markCalls  [][]int64
	readErr    error
	burnErr    error
	clearCount int64
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		read:   make(map[[2]int64]bool),
		burned: make(map[int64]int64),
	}
}

func (f *fakeMessages) MarkRead(messageIDs []int64, readerID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := make([]int64, len(messageIDs))
	copy(call, messageIDs)
	f.markCalls = append(f.markCalls, call)

	if f.readErr != nil {
		return nil, f.readErr
	}

	var newly []int64
	for _, id := range messageIDs {
		key := [2]int64{id, readerID}
		if f.read[key] {
			continue
		}
		f.read[key] = true
		newly = append(newly, id)
	}
	return newly, nil
}

func (f *fakeMessages) MarkBurned(messageID, burnedBy int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.burnErr != nil {
		return f.burnErr
	}
	if _, ok := f.burned[messageID]; ok {
		return database.ErrMessageNotFound
	}
	f.burned[messageID] = burnedBy
	return nil
}

func (f *fakeMessages) ClearRoom(roomID int64) (int64, error) {
	return f.clearCount, nil
}

func (f *fakeMessages) ReadersOf(messageID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return nil, f.readErr
	}
	var readers []int64
	for key := range f.read {
		if key[0] == messageID {
			readers = append(readers, key[1])
		}
	}
	slices.Sort(readers)
	return readers, nil
}

// fakePresence is an in-memory stand-in for the Redis mirror
type fakePresence struct {
	mu          sync.Mutex
	rooms       map[int64]map[int64]presence.Member
	fail        bool
	addCalls    int
	removeCalls int
}

func newFakePresence() *fakePresence {
	return &fakePresence{rooms: make(map[int64]map[int64]presence.Member)}
}

func (f *fakePresence) AddToRoom(ctx context.Context, roomID, userID int64, nickname string, joinedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.addCalls++
	if f.fail {
		return errors.New("presence store down")
	}
	if f.rooms[roomID] == nil {
		f.rooms[roomID] = make(map[int64]presence.Member)
	}
	f.rooms[roomID][userID] = presence.Member{UserID: userID, Nickname: nickname, JoinedAt: joinedAt}
	return nil
}

func (f *fakePresence) RemoveFromRoom(ctx context.Context, roomID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removeCalls++
	if f.fail {
		return errors.New("presence store down")
	}
	delete(f.rooms[roomID], userID)
	return nil
}

func (f *fakePresence) RoomUsers(ctx context.Context, roomID int64) ([]presence.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return nil, errors.New("presence store down")
	}
	var out []presence.Member
	for _, m := range f.rooms[roomID] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakePresence) contains(roomID, userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rooms[roomID][userID]
	return ok
}

// fixtures bundles the fake collaborators behind a test server
type fixtures struct {
	tokens   *fakeTokens
	users    *fakeUsers
	members  *fakeMembers
	messages *fakeMessages
	presence *fakePresence
}

// testServer creates a server wired to fake collaborators. Users alice (1),
// bob (2) and carol (3) exist with "<name>-token" tokens and are all
// members of room 1; alice and bob are additionally members of room 2.
func testServer(t *testing.T) (*Server, *fixtures) {
	t.Helper()
	initTestLoggers()

	fx := &fixtures{
		tokens: &fakeTokens{tokens: map[string]int64{
			"alice-token": 1,
			"bob-token":   2,
			"carol-token": 3,
		}},
		users: &fakeUsers{users: map[int64]*database.User{
			1: {ID: 1, Nickname: "alice", AvatarURL: "alice.png"},
			2: {ID: 2, Nickname: "bob", AvatarURL: "bob.png"},
			3: {ID: 3, Nickname: "carol", AvatarURL: "carol.png"},
		}},
		members: &fakeMembers{members: map[[2]int64]bool{
			{1, 1}: true, {1, 2}: true, {1, 3}: true,
			{2, 1}: true, {2, 2}: true,
		}},
		messages: newFakeMessages(),
		presence: newFakePresence(),
	}

	cfg := DefaultConfig()
	srv := New(cfg, Collaborators{
		Tokens:   fx.tokens,
		Users:    fx.users,
		Members:  fx.members,
		Messages: fx.messages,
		Presence: fx.presence,
	})
	// No metrics in tests to avoid prometheus registration conflicts
	return srv, fx
}

// connect registers a fresh unauthenticated session
func connect(srv *Server) (*Session, *mockConn) {
	conn := newMockConn()
	sess := srv.registry.Create(conn)
	return sess, conn
}

// connectAs registers a session and completes the handshake
func connectAs(t *testing.T, srv *Server, token string) (*Session, *mockConn) {
	t.Helper()
	sess, conn := connect(srv)
	if err := authenticate(srv, sess, token); err != nil {
		t.Fatalf("auth failed: %v", err)
	}
	if !sess.IsAuthenticated() {
		t.Fatalf("session not authenticated after handshake with token %q", token)
	}
	conn.reset()
	return sess, conn
}

func authenticate(srv *Server, sess *Session, token string) error {
	return srv.handleRaw(sess, []byte(`{"type":"auth","token":"`+token+`"}`))
}

// join drives a join_room message and fails the test on an error event
func join(t *testing.T, srv *Server, sess *Session, conn *mockConn, roomID int64) {
	t.Helper()
	before := conn.countType(t, "error")
	if err := srv.handleRaw(sess, []byte(jsonJoin(roomID))); err != nil {
		t.Fatalf("join_room failed: %v", err)
	}
	if conn.countType(t, "error") != before {
		evs := conn.eventsOfType(t, "error")
		t.Fatalf("join_room rejected: %v", evs[len(evs)-1]["msg"])
	}
}

func jsonJoin(roomID int64) string {
	data, _ := json.Marshal(map[string]any{"type": "join_room", "room_id": roomID})
	return string(data)
}
