package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires the realtime core together: the session registry, room
// manager, read-receipt aggregator, and the external collaborators.
type Server struct {
	config    ServerConfig
	registry  *SessionRegistry
	rooms     *RoomManager
	receipts  *ReadReceipts
	tokens    AuthTokenService
	users     UserDirectory
	messages  MessageStore
	presence  PresenceStore
	metrics   *Metrics
	httpSrv   *http.Server
	startTime time.Time
}

// Collaborators are the external services the realtime core consumes.
// Presence may be nil (mirror disabled).
type Collaborators struct {
	Tokens   AuthTokenService
	Users    UserDirectory
	Members  RoomMembership
	Messages MessageStore
	Presence PresenceStore
}

// New creates a server instance.
func New(config ServerConfig, collab Collaborators) *Server {
	registry := NewSessionRegistry()
	return &Server{
		config:    config,
		registry:  registry,
		rooms:     NewRoomManager(registry, collab.Presence, collab.Members),
		receipts:  NewReadReceipts(collab.Messages, registry),
		tokens:    collab.Tokens,
		users:     collab.Users,
		messages:  collab.Messages,
		presence:  collab.Presence,
		startTime: time.Now(),
	}
}

// SetMetrics attaches metrics to the server and its components.
func (s *Server) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
	s.registry.SetMetrics(metrics)
	s.rooms.SetMetrics(metrics)
	s.receipts.SetMetrics(metrics)
}

// Routes returns the HTTP mux: the websocket endpoint plus the read-side
// and operational endpoints.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("GET /health", s.HealthHandler)
	mux.HandleFunc("GET /rooms/{id}/online", s.RoomOnlineHandler)
	mux.HandleFunc("GET /rooms/{id}/intimacy", s.RoomIntimacyHandler)
	mux.HandleFunc("POST /rooms/{id}/clear", s.RoomClearHandler)
	mux.HandleFunc("GET /messages/{id}/readers", s.MessageReadersHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start begins serving HTTP (and websocket upgrades) on the configured
// port. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Listening on %s", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down and closes every live connection.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}
	s.registry.CloseAll()
	return err
}
