package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddlechat/huddle/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The web app fronts this server behind the same origin; token auth
		// happens after upgrade, so all origins are accepted here.
		return true
	},
}

// WebSocketConn wraps a gorilla connection with write synchronization, so
// broadcast fan-out and direct replies from different goroutines never
// interleave frames.
type WebSocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeMu      sync.Mutex
	closed       bool
}

// NewWebSocketConn creates the connection adapter.
func NewWebSocketConn(ws *websocket.Conn, writeTimeout time.Duration) *WebSocketConn {
	return &WebSocketConn{ws: ws, writeTimeout: writeTimeout}
}

// WriteText sends one text frame, bounded by the write timeout.
func (c *WebSocketConn) WriteText(data []byte) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return net.ErrClosed
	}
	c.closeMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage returns the next client payload.
func (c *WebSocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Close closes the underlying connection. Idempotent.
func (c *WebSocketConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

// RemoteAddr returns the peer address.
func (c *WebSocketConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// HandleWebSocket upgrades an HTTP request and runs the connection's
// lifecycle: register, greet, read until the socket dies, then tear down.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		errorLog.Printf("websocket upgrade failed: %v", err)
		return
	}

	// Bound inbound frames to the content limit plus envelope overhead; a
	// frame over the limit closes the connection with 1009.
	ws.SetReadLimit(int64(s.config.MaxMessageLength) + 4096)

	conn := NewWebSocketConn(ws, s.config.WriteTimeout)
	sess := s.registry.Create(conn)
	debugLog.Printf("session %s: connected from %s", sess.ID, conn.RemoteAddr())

	if err := s.sendEvent(sess, protocol.NewConnected(sess.ID)); err != nil {
		errorLog.Printf("session %s: greeting failed: %v", sess.ID, err)
		s.registry.Remove(sess.ID)
		conn.Close()
		return
	}

	go s.readLoop(sess, conn)
}

// readLoop processes one connection's events in arrival order. Events from
// a single connection are strictly sequential; there is no ordering
// guarantee between connections.
func (s *Server) readLoop(sess *Session, conn *WebSocketConn) {
	defer s.teardown(sess, conn)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			debugLog.Printf("session %s: read loop ended: %v", sess.ID, err)
			return
		}
		if err := s.handleRaw(sess, data); err != nil {
			// Transport-level write failure; the deferred teardown cleans up.
			debugLog.Printf("session %s: handle failed: %v", sess.ID, err)
			return
		}
	}
}

// teardown is the single linear disconnect sequence: registry removal and
// room cleanup (last-device check, mirror delete, user_left broadcast,
// intimacy re-evaluation) as one step, then close the socket.
func (s *Server) teardown(sess *Session, conn *WebSocketConn) {
	s.rooms.Disconnect(context.Background(), sess.ID)
	conn.Close()
	debugLog.Printf("session %s: disconnected", sess.ID)
}
