package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

// User represents a registered user.
type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MinPasswordLength is enforced by CreateUser and SetPassword.
const MinPasswordLength = 8

// CreateUser inserts a new user with the given username (lowercased) and a
// bcrypt hash of password.
func (db *ServerDB) CreateUser(username, password string) (*User, error) {
	username = normalizeUsername(username)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	id, err := generateID("u_")
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := time.Now().UTC()
	_, err = db.conn.Exec(
		`INSERT INTO users (id, username, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, username, hash, now, now,
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &User{ID: id, Username: username, CreatedAt: now, UpdatedAt: now}, nil
}

// GetUserByID returns the user with the given ID, or nil if not found.
func (db *ServerDB) GetUserByID(id string) (*User, error) {
	u := &User{}
	err := db.conn.QueryRow(
		`SELECT id, username, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetUserByUsername returns the user with the given username
// (case-insensitive), or nil if not found.
func (db *ServerDB) GetUserByUsername(username string) (*User, error) {
	u := &User{}
	err := db.conn.QueryRow(
		`SELECT id, username, created_at, updated_at FROM users WHERE username = ?`, normalizeUsername(username),
	).Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

// ListUsers returns all users.
func (db *ServerDB) ListUsers() ([]*User, error) {
	rows, err := db.conn.Query(`SELECT id, username, created_at, updated_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: iterate: %w", err)
	}
	return users, nil
}

// VerifyPassword returns the user when password matches, or nil when the
// user is unknown or the password is wrong.
func (db *ServerDB) VerifyPassword(username, password string) (*User, error) {
	u := &User{}
	var hash string
	err := db.conn.QueryRow(
		`SELECT id, username, password_hash, created_at, updated_at FROM users WHERE username = ?`,
		normalizeUsername(username),
	).Scan(&u.ID, &u.Username, &hash, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		// Burn comparable time so unknown users are not distinguishable.
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, nil
		}
		return nil, fmt.Errorf("verify password: %w", err)
	}
	return u, nil
}

// SetPassword replaces the user's password and revokes their sessions.
func (db *ServerDB) SetPassword(userID, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	res, err := db.conn.Exec(
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	_, err = db.RevokeUserTokens(userID)
	return err
}

// DeleteUser removes a user with their tokens and reminders.
func (db *ServerDB) DeleteUser(userID string) error {
	res, err := db.conn.Exec(`DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// dummyHash is compared against when the username is unknown.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("rem-placeholder"), bcrypt.DefaultCost)

func hashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
