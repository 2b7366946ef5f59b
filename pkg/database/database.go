// Package database is the SQLite-backed implementation of the external
// collaborators the socket server consumes: the user directory, room
// membership, and message read/burn state. It shares its schema with the
// web application that owns the CRUD side of the system.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrMessageNotFound indicates the message does not exist or is already burned.
	ErrMessageNotFound = errors.New("message not found")
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
}

// User is a chat user's display identity.
type User struct {
	ID        int64
	Nickname  string
	AvatarURL string
}

// Open opens the SQLite database at the given path and initializes the
// schema if needed.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// WAL allows multiple readers and one writer at the same time
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait and retry instead of immediately failing with SQLITE_BUSY
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func (db *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	nickname TEXT NOT NULL,
	avatar_url TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	joined_at INTEGER NOT NULL,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY,
	room_id INTEGER NOT NULL,
	sender_id INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	burned_by INTEGER,
	burned_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id);

CREATE TABLE IF NOT EXISTS message_reads (
	message_id INTEGER NOT NULL,
	reader_id INTEGER NOT NULL,
	read_at INTEGER NOT NULL,
	PRIMARY KEY (message_id, reader_id)
);
`
	_, err := db.conn.Exec(schema)
	return err
}

// GetUser returns the display identity for a user id.
func (db *DB) GetUser(userID int64) (*User, error) {
	var u User
	err := db.conn.QueryRow(
		"SELECT id, nickname, avatar_url FROM users WHERE id = ?", userID,
	).Scan(&u.ID, &u.Nickname, &u.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &u, nil
}

// CreateUser inserts a user and returns its id.
func (db *DB) CreateUser(nickname, avatarURL string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO users (nickname, avatar_url, created_at) VALUES (?, ?, ?)",
		nickname, avatarURL, time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return res.LastInsertId()
}

// IsMember reports whether the user is a persisted member of the room.
func (db *DB) IsMember(roomID, userID int64) (bool, error) {
	var one int
	err := db.conn.QueryRow(
		"SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?", roomID, userID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query membership: %w", err)
	}
	return true, nil
}

// AddMember adds a user to a room's membership. Idempotent.
func (db *DB) AddMember(roomID, userID int64) error {
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)",
		roomID, userID, time.Now().UnixMilli(),
	)
	return err
}

// InsertMessage records a message row. The realtime core never calls this;
// it exists for the web side and for tests.
func (db *DB) InsertMessage(messageID, roomID, senderID int64) error {
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO messages (id, room_id, sender_id, created_at) VALUES (?, ?, ?, ?)",
		messageID, roomID, senderID, time.Now().UnixMilli(),
	)
	return err
}

// MarkRead records the reader's read state for a batch of messages and
// returns the ids that were newly marked. Already-read ids are ignored, so
// repeated or overlapping batches are safe and the caller can broadcast
// exactly the delta.
func (db *DB) MarkRead(messageIDs []int64, readerID int64) ([]int64, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		"INSERT OR IGNORE INTO message_reads (message_id, reader_id, read_at) VALUES (?, ?, ?)",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	marked := make([]int64, 0, len(messageIDs))
	for _, id := range messageIDs {
		res, err := stmt.Exec(id, readerID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to mark message %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			marked = append(marked, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return marked, nil
}

// MarkBurned records that a message was burned. Burning an unknown or
// already-burned message returns ErrMessageNotFound.
func (db *DB) MarkBurned(messageID, burnedBy int64) error {
	res, err := db.conn.Exec(
		"UPDATE messages SET burned_by = ?, burned_at = ? WHERE id = ? AND burned_at IS NULL",
		burnedBy, time.Now().UnixMilli(), messageID,
	)
	if err != nil {
		return fmt.Errorf("failed to burn message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ClearRoom deletes all of a room's messages and their read state,
// returning the number of messages removed.
func (db *DB) ClearRoom(roomID int64) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM message_reads WHERE message_id IN (SELECT id FROM messages WHERE room_id = ?)",
		roomID,
	); err != nil {
		return 0, fmt.Errorf("failed to clear read state: %w", err)
	}

	res, err := tx.Exec("DELETE FROM messages WHERE room_id = ?", roomID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return n, nil
}

// ReadersOf returns the reader ids recorded for a message, ordered.
// Used by the HTTP read API.
func (db *DB) ReadersOf(messageID int64) ([]int64, error) {
	rows, err := db.conn.Query(
		"SELECT reader_id FROM message_reads WHERE message_id = ? ORDER BY reader_id", messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readers: %w", err)
	}
	defer rows.Close()

	var readers []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		readers = append(readers, id)
	}
	return readers, rows.Err()
}

// SeedUsers inserts users in bulk, ignoring ids that already exist.
func (db *DB) SeedUsers(users []User) error {
	if len(users) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("INSERT OR IGNORE INTO users (id, nickname, avatar_url, created_at) VALUES ")
	args := make([]any, 0, len(users)*4)
	now := time.Now().UnixMilli()
	for i, u := range users {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?)")
		args = append(args, u.ID, u.Nickname, u.AvatarURL, now)
	}
	_, err := db.conn.Exec(b.String(), args...)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
