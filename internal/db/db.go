package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const dbFile = "rem.db"

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a reminder, operation or conflict does not exist.
var ErrNotFound = errors.New("not found")

// DB is the local durable store: reminders, the outbox of pending
// operations, settings and stored conflicts.
type DB struct {
	conn    *sql.DB
	baseDir string

	writeMu   sync.Mutex // serializes writers inside this process
	stampMu   sync.Mutex
	lastStamp int64
}

// Open opens (creating if needed) the store in baseDir and runs any pending
// migrations.
func Open(baseDir string) (*DB, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("create db dir: %w", err)}
	}
	dbPath := filepath.Join(baseDir, dbFile)

	// Pragmas go in the DSN so every pooled connection gets them.
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(500)")
	q.Add("_pragma", "synchronous(NORMAL)")
	conn, err := sql.Open("sqlite", "file:"+dbPath+"?"+q.Encode())
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}

	db := &DB{conn: conn, baseDir: baseDir}

	err = db.withWriteLock(func() error {
		if _, err := conn.Exec(schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		_, err := db.runMigrationsInternal()
		return err
	})
	if err != nil {
		conn.Close()
		return nil, &StorageError{Op: "migrate", Err: err}
	}

	var last sql.NullInt64
	if err := conn.QueryRow(`SELECT MAX(last_modified) FROM reminders`).Scan(&last); err != nil {
		conn.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}
	db.lastStamp = last.Int64

	return db, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// BaseDir returns the directory holding the database
func (db *DB) BaseDir() string {
	return db.baseDir
}

// Path returns the database file path.
func (db *DB) Path() string {
	return filepath.Join(db.baseDir, dbFile)
}

// withWriteLock executes fn while holding the in-process write mutex and the
// cross-process file lock.
func (db *DB) withWriteLock(fn func() error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	locker := newWriteLocker(db.baseDir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return err
	}
	defer locker.release()
	return fn()
}

// withTx runs fn inside one transaction under the write lock. Any error is
// returned as a *StorageError tagged with op.
func (db *DB) withTx(op string, fn func(tx *sql.Tx) error) error {
	err := db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	return wrap(op, err)
}

// stamp returns a lastModified value strictly greater than any previous one.
func (db *DB) stamp() time.Time {
	db.stampMu.Lock()
	defer db.stampMu.Unlock()
	now := time.Now().UnixNano()
	if now <= db.lastStamp {
		now = db.lastStamp + 1
	}
	db.lastStamp = now
	return time.Unix(0, now).UTC()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
