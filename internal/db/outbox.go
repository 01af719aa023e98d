package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/rem/internal/models"
)

const operationColumns = `seq, id, type, target_id, local_id, payload, base_version, timestamp,
	retry_count, last_error, failed`

func scanOperation(s rowScanner) (*models.Operation, error) {
	var (
		op               models.Operation
		typ, payload, ts string
		failed           int
	)
	err := s.Scan(&op.Seq, &op.ID, &typ, &op.TargetID, &op.LocalID, &payload, &op.BaseVersion, &ts,
		&op.RetryCount, &op.LastError, &failed)
	if err != nil {
		return nil, err
	}
	op.Type = models.OpType(typ)
	if payload != "" {
		op.Payload = []byte(payload)
	}
	op.Timestamp = parseTime(ts)
	op.Failed = failed != 0
	return &op, nil
}

// enqueueTx inserts op, filling in ID, Timestamp and Seq.
func enqueueTx(tx *sql.Tx, op *models.Operation) error {
	if op.LocalID == "" {
		return errors.New("operation has no local id")
	}
	switch op.Type {
	case models.OpCreate, models.OpUpdate, models.OpDelete:
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}
	res, err := tx.Exec(`INSERT INTO operations (id, type, target_id, local_id, payload, base_version,
		timestamp, retry_count, last_error, failed) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, string(op.Type), op.TargetID, op.LocalID, string(op.Payload), op.BaseVersion,
		formatTime(op.Timestamp), op.RetryCount, op.LastError, boolInt(op.Failed))
	if err != nil {
		return err
	}
	op.Seq, err = res.LastInsertId()
	return err
}

// Enqueue appends op to the outbox.
func (db *DB) Enqueue(op *models.Operation) error {
	return db.withTx("enqueue", func(tx *sql.Tx) error {
		return enqueueTx(tx, op)
	})
}

// SaveMutation writes r and enqueues op in one transaction, so a local edit
// is never visible without the operation that will push it.
func (db *DB) SaveMutation(r *models.Reminder, op *models.Operation) error {
	return db.withTx("save mutation", func(tx *sql.Tx) error {
		if err := db.putTx(tx, r); err != nil {
			return err
		}
		return enqueueTx(tx, op)
	})
}

// SaveDelete tombstones r and enqueues the DELETE op. Queued UPDATEs for the
// entity are dropped because the delete supersedes them; their ids are
// returned.
func (db *DB) SaveDelete(r *models.Reminder, op *models.Operation) ([]string, error) {
	var superseded []string
	err := db.withTx("save delete", func(tx *sql.Tx) error {
		superseded = nil
		rows, err := tx.Query(`SELECT id FROM operations WHERE local_id = ? AND type = ?`,
			r.LocalID, string(models.OpUpdate))
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			superseded = append(superseded, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM operations WHERE local_id = ? AND type = ?`,
			r.LocalID, string(models.OpUpdate)); err != nil {
			return err
		}
		if err := db.putTx(tx, r); err != nil {
			return err
		}
		return enqueueTx(tx, op)
	})
	return superseded, err
}

// Dequeue removes a confirmed operation. Missing ids are ignored.
func (db *DB) Dequeue(opID string) error {
	return db.withTx("dequeue", func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM operations WHERE id = ?`, opID)
		return err
	})
}

// DequeueForEntity drops every operation for localID and returns their ids.
func (db *DB) DequeueForEntity(localID string) ([]string, error) {
	var ids []string
	err := db.withTx("dequeue entity", func(tx *sql.Tx) error {
		var err error
		ids, err = dropEntityOpsTx(tx, localID)
		return err
	})
	return ids, err
}

func dropEntityOpsTx(tx *sql.Tx, localID string) ([]string, error) {
	rows, err := tx.Query(`SELECT id FROM operations WHERE local_id = ? ORDER BY seq`, localID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_, err = tx.Exec(`DELETE FROM operations WHERE local_id = ?`, localID)
	return ids, err
}

// GetOperation returns one outbox entry.
func (db *DB) GetOperation(opID string) (*models.Operation, error) {
	op, err := scanOperation(db.conn.QueryRow(`SELECT `+operationColumns+` FROM operations WHERE id = ?`, opID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("operation %s: %w", opID, ErrNotFound)
	}
	return op, wrap("get operation", err)
}

func (db *DB) listOperations(op string, where string, args ...any) ([]models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY seq"
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()
	var out []models.Operation
	for rows.Next() {
		o, err := scanOperation(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, *o)
	}
	return out, wrap(op, rows.Err())
}

// ListOperations returns the whole outbox, failed entries included, in
// enqueue order.
func (db *DB) ListOperations() ([]models.Operation, error) {
	return db.listOperations("list operations", "")
}

// ListPending returns operations still eligible for automatic push, in
// enqueue order.
func (db *DB) ListPending() ([]models.Operation, error) {
	return db.listOperations("list pending", "failed = 0")
}

// ListFailed returns terminally failed operations.
func (db *DB) ListFailed() ([]models.Operation, error) {
	return db.listOperations("list failed", "failed = 1")
}

// ListOperationsForEntity returns the queued operations for one reminder.
func (db *DB) ListOperationsForEntity(localID string) ([]models.Operation, error) {
	return db.listOperations("list entity operations", "local_id = ?", localID)
}

// CountPending returns the number of operations eligible for push.
func (db *DB) CountPending() (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM operations WHERE failed = 0`).Scan(&n)
	return n, wrap("count pending", err)
}

// CountFailed returns the number of terminally failed operations.
func (db *DB) CountFailed() (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM operations WHERE failed = 1`).Scan(&n)
	return n, wrap("count failed", err)
}

// UpdateOperation persists retry bookkeeping for op.
func (db *DB) UpdateOperation(op *models.Operation) error {
	return db.withTx("update operation", func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE operations SET target_id = ?, base_version = ?, retry_count = ?,
			last_error = ?, failed = ? WHERE id = ?`,
			op.TargetID, op.BaseVersion, op.RetryCount, op.LastError, boolInt(op.Failed), op.ID)
		if err != nil {
			return err
		}
		return requireRow(res, "operation "+op.ID)
	})
}

// MarkOperationFailed flags op as terminally failed. It stays in the outbox
// until retried or discarded.
func (db *DB) MarkOperationFailed(opID, lastError string) error {
	return db.withTx("mark failed", func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE operations SET failed = 1, last_error = ? WHERE id = ?`, lastError, opID)
		if err != nil {
			return err
		}
		return requireRow(res, "operation "+opID)
	})
}

// ResetOperation clears the failure state so the op is pushed again.
func (db *DB) ResetOperation(opID string) error {
	return db.withTx("reset operation", func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE operations SET failed = 0, retry_count = 0, last_error = '' WHERE id = ?`, opID)
		if err != nil {
			return err
		}
		return requireRow(res, "operation "+opID)
	})
}

// ClearOutbox drops every queued operation and returns how many were removed.
func (db *DB) ClearOutbox() (int64, error) {
	var n int64
	err := db.withTx("clear outbox", func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM operations`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// AckOperation records a confirmed push of op in one transaction. A DELETE
// removes the entity. Otherwise the op is dequeued, later operations for the
// entity are rebased onto the server id and version, and the row is marked
// SYNCED with the server copy when nothing else is queued for it. It returns
// the updated row, or nil when the entity is gone.
func (db *DB) AckOperation(op models.Operation, remote *models.RemoteReminder) (*models.Reminder, error) {
	var out *models.Reminder
	err := db.withTx("ack operation", func(tx *sql.Tx) error {
		out = nil
		if op.Type == models.OpDelete {
			return removeTx(tx, op.LocalID)
		}
		if _, err := tx.Exec(`DELETE FROM operations WHERE id = ?`, op.ID); err != nil {
			return err
		}
		cur, err := getTx(tx, op.LocalID)
		if errors.Is(err, ErrNotFound) {
			// Deleted locally while the push was in flight.
			return nil
		}
		if err != nil {
			return err
		}
		if remote == nil {
			out = cur
			return nil
		}
		if op.Type == models.OpCreate {
			if err := dropPulledCopies(tx, remote.ID, op.LocalID); err != nil {
				return err
			}
		}
		version := remote.Version()
		if _, err := tx.Exec(`UPDATE operations SET target_id = ?, base_version = ? WHERE local_id = ?`,
			remote.ID, version, op.LocalID); err != nil {
			return err
		}
		var remaining int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM operations WHERE local_id = ?`, op.LocalID).Scan(&remaining); err != nil {
			return err
		}

		next := *cur
		if remaining == 0 && cur.SyncStatus != models.StatusConflict && !cur.IsDeleted() {
			next = models.FromRemote(*remote, cur.LocalID)
		} else {
			next.ID = remote.ID
			next.ServerVersion = version
			next.UpdatedAt = remote.UpdatedAt.UTC()
			if op.Type == models.OpCreate {
				next.CreatedAt = remote.CreatedAt.UTC()
			}
		}
		if err := db.putTx(tx, &next); err != nil {
			return err
		}
		out = &next
		return nil
	})
	return out, err
}

// dropPulledCopies removes SYNCED rows other than localID that already carry
// serverID. A pull that overlaps an in-flight create can store the new
// server row before the create is acknowledged.
func dropPulledCopies(tx *sql.Tx, serverID int64, localID string) error {
	rows, err := tx.Query(`SELECT local_id FROM reminders
		WHERE server_id = ? AND local_id != ? AND sync_status = ?`, serverID, localID, string(models.StatusSynced))
	if err != nil {
		return err
	}
	var dups []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		dups = append(dups, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range dups {
		if err := removeTx(tx, id); err != nil {
			return err
		}
	}
	return nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
