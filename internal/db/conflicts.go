package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus/rem/internal/models"
)

// RecordConflict marks the entity CONFLICT and stores the server snapshot,
// replacing any earlier snapshot.
func (db *DB) RecordConflict(c models.Conflict) error {
	data, err := json.Marshal(c.Server)
	if err != nil {
		return wrap("record conflict", fmt.Errorf("encode server copy: %w", err))
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}
	return db.withTx("record conflict", func(tx *sql.Tx) error {
		cur, err := getTx(tx, c.LocalID)
		if err != nil {
			return err
		}
		if cur.SyncStatus != models.StatusConflict {
			cur.SyncStatus = models.StatusConflict
			if err := db.putTx(tx, cur); err != nil {
				return err
			}
		}
		_, err = tx.Exec(`INSERT OR REPLACE INTO sync_conflicts (local_id, server_data, server_deleted, reason, detected_at)
			VALUES (?, ?, ?, ?, ?)`, c.LocalID, string(data), boolInt(c.Deleted), c.Reason, formatTime(c.DetectedAt))
		return err
	})
}

func scanConflict(s rowScanner) (*models.Conflict, error) {
	var (
		c              models.Conflict
		data, detected string
		deleted        int
	)
	if err := s.Scan(&c.LocalID, &data, &deleted, &c.Reason, &detected); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &c.Server); err != nil {
		return nil, fmt.Errorf("decode server copy: %w", err)
	}
	c.Deleted = deleted != 0
	c.DetectedAt = parseTime(detected)
	return &c, nil
}

// GetConflict returns the stored conflict for localID.
func (db *DB) GetConflict(localID string) (*models.Conflict, error) {
	c, err := scanConflict(db.conn.QueryRow(`SELECT local_id, server_data, server_deleted, reason, detected_at
		FROM sync_conflicts WHERE local_id = ?`, localID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conflict %s: %w", localID, ErrNotFound)
	}
	return c, wrap("get conflict", err)
}

// ListConflicts returns every stored conflict, oldest first.
func (db *DB) ListConflicts() ([]models.Conflict, error) {
	rows, err := db.conn.Query(`SELECT local_id, server_data, server_deleted, reason, detected_at
		FROM sync_conflicts ORDER BY detected_at`)
	if err != nil {
		return nil, wrap("list conflicts", err)
	}
	defer rows.Close()
	var out []models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, wrap("list conflicts", err)
		}
		out = append(out, *c)
	}
	return out, wrap("list conflicts", rows.Err())
}

// ClearConflict deletes the stored snapshot without touching the entity.
func (db *DB) ClearConflict(localID string) error {
	return db.withTx("clear conflict", func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM sync_conflicts WHERE local_id = ?`, localID)
		return err
	})
}

// AdoptServer resolves a conflict in favour of the server copy: queued
// operations are dropped, the row becomes the SYNCED server copy (or is
// removed when the server deleted it) and the snapshot is cleared. It
// returns the dropped operation ids.
func (db *DB) AdoptServer(localID string, server *models.RemoteReminder) ([]string, error) {
	var dropped []string
	err := db.withTx("adopt server", func(tx *sql.Tx) error {
		var err error
		if dropped, err = dropEntityOpsTx(tx, localID); err != nil {
			return err
		}
		if server == nil {
			return removeTx(tx, localID)
		}
		if _, err := tx.Exec(`DELETE FROM sync_conflicts WHERE local_id = ?`, localID); err != nil {
			return err
		}
		r := models.FromRemote(*server, localID)
		return db.putTx(tx, &r)
	})
	return dropped, err
}

// RebaseLocal resolves a conflict in favour of the local copy: queued
// operations are replaced by op, which must carry the full local value based
// on the server version, and the row returns to PENDING on that version. It
// returns the dropped operation ids.
func (db *DB) RebaseLocal(localID string, server *models.RemoteReminder, op *models.Operation) ([]string, error) {
	var dropped []string
	err := db.withTx("rebase local", func(tx *sql.Tx) error {
		cur, err := getTx(tx, localID)
		if err != nil {
			return err
		}
		if dropped, err = dropEntityOpsTx(tx, localID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM sync_conflicts WHERE local_id = ?`, localID); err != nil {
			return err
		}
		if server != nil {
			cur.ID = server.ID
			cur.ServerVersion = server.Version()
		} else {
			// Server copy is gone: push the local value as a new reminder.
			cur.ID = 0
			cur.ServerVersion = ""
		}
		cur.SyncStatus = models.StatusPending
		if err := db.putTx(tx, cur); err != nil {
			return err
		}
		op.LocalID = localID
		op.TargetID = cur.ID
		op.BaseVersion = cur.ServerVersion
		return enqueueTx(tx, op)
	})
	return dropped, err
}
