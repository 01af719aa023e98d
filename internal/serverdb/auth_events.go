package serverdb

import (
	"fmt"
	"time"
)

// AuthEvent represents a row in the auth_events table.
type AuthEvent struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	EventType  string    `json:"event_type"`
	RemoteAddr string    `json:"remote_addr"`
	CreatedAt  time.Time `json:"created_at"`
}

// Auth event type constants.
const (
	AuthEventLogin         = "login"
	AuthEventLoginFailed   = "login_failed"
	AuthEventRefresh       = "refresh"
	AuthEventRefreshFailed = "refresh_failed"
)

// InsertAuthEvent inserts an auth event row.
func (db *ServerDB) InsertAuthEvent(username, eventType, remoteAddr string) error {
	_, err := db.conn.Exec(
		`INSERT INTO auth_events (username, event_type, remote_addr, created_at) VALUES (?, ?, ?, ?)`,
		normalizeUsername(username), eventType, remoteAddr, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert auth event: %w", err)
	}
	return nil
}

// ListAuthEvents returns the newest events first. An empty username lists
// every user's events.
func (db *ServerDB) ListAuthEvents(username string, limit int) ([]AuthEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	query := `SELECT id, username, event_type, remote_addr, created_at FROM auth_events`
	args := []any{}
	if username != "" {
		query += ` WHERE username = ?`
		args = append(args, normalizeUsername(username))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list auth events: %w", err)
	}
	defer rows.Close()

	var out []AuthEvent
	for rows.Next() {
		var e AuthEvent
		if err := rows.Scan(&e.ID, &e.Username, &e.EventType, &e.RemoteAddr, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan auth event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list auth events: iterate: %w", err)
	}
	return out, nil
}
