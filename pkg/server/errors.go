package server

import (
	"errors"
	"io"
	"log"

	"github.com/huddlechat/huddle/pkg/auth"
	"github.com/huddlechat/huddle/pkg/database"
	"github.com/huddlechat/huddle/pkg/protocol"
)

var (
	// ErrNotAuthenticated indicates the session has not completed the handshake.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInvalidRoom indicates the room id is not a positive integer.
	ErrInvalidRoom = errors.New("invalid room id")
	// ErrNotAMember indicates the user is not authorized for the room.
	ErrNotAMember = errors.New("not a member of this room")
	// ErrNotInRoom indicates the action requires the session to occupy a room.
	ErrNotInRoom = errors.New("not in a room")
)

// Package-level loggers, swapped out by EnableDebugLogging and by tests.
var (
	errorLog = log.New(log.Writer(), "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// EnableDebugLogging turns on verbose per-event logging.
func EnableDebugLogging() {
	debugLog = log.New(log.Writer(), "DEBUG: ", log.LstdFlags|log.Lmicroseconds)
}

// errorMessage maps an internal error to the human-readable reason sent in
// an error event. Collaborator failures are deliberately vague on the wire.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "not authenticated"
	case errors.Is(err, ErrInvalidRoom):
		return "invalid room id"
	case errors.Is(err, ErrNotAMember):
		return "not a member of this room"
	case errors.Is(err, ErrNotInRoom):
		return "join a room first"
	case errors.Is(err, auth.ErrEmptyToken):
		return "empty token"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid token"
	case errors.Is(err, database.ErrUserNotFound):
		return "user not found"
	case errors.Is(err, database.ErrMessageNotFound):
		return "message not found"
	case errors.Is(err, protocol.ErrMissingType), errors.Is(err, protocol.ErrUnknownType), errors.Is(err, protocol.ErrMalformed):
		return "unsupported message"
	default:
		return "request failed"
	}
}
