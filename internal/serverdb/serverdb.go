// Package serverdb is the reference server's store: users, session tokens,
// login audit events and per-user reminders.
package serverdb

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors returned by the reminder and user methods.
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrUserExists      = errors.New("user already exists")
)

// ServerDB is the server's SQLite store. All access goes through one
// connection, which serializes writers and keeps ":memory:" databases whole.
type ServerDB struct {
	conn *sql.DB
	path string
}

// dsnParams are applied by the driver on every new connection.
const dsnParams = "_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on"

// Open opens (creating if needed) the database at dbPath and migrates it to
// ServerSchemaVersion.
func Open(dbPath string) (*ServerDB, error) {
	dsn := "file::memory:?" + dsnParams
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = "file:" + dbPath + "?" + dsnParams
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(serverSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	db := &ServerDB{conn: conn, path: dbPath}
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Path returns the database file path.
func (db *ServerDB) Path() string { return db.path }

func (db *ServerDB) Ping() error {
	return db.conn.Ping()
}

// Close checkpoints the WAL and closes the connection.
func (db *ServerDB) Close() error {
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// RunMigrations applies migrations newer than the recorded version, each in
// its own transaction, and returns how many ran.
func (db *ServerDB) RunMigrations() (int, error) {
	current := db.SchemaVersion()
	ran := 0
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		err := db.inTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.SQL); err != nil {
				return err
			}
			return setSchemaVersion(tx, m.Version)
		})
		if err != nil {
			return ran, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		ran++
	}
	if current == 0 && ran == 0 {
		// Fresh database created at the current schema.
		if err := setSchemaVersion(db.conn, ServerSchemaVersion); err != nil {
			return 0, err
		}
	}
	return ran, nil
}

// SchemaVersion returns the recorded schema version, 0 for a fresh database.
func (db *ServerDB) SchemaVersion() int {
	var v string
	if err := db.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&v); err != nil {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func setSchemaVersion(e execer, version int) error {
	_, err := e.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`, strconv.Itoa(version))
	return err
}

func (db *ServerDB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// generateID creates a prefixed ID with 16 random hex chars.
func generateID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(b), nil
}
