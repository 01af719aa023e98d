package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/rem/internal/models"
)

const reminderColumns = `local_id, server_id, text, completed, reminder_date, reminder_time,
	is_all_day, priority, created_at, updated_at, sync_status, last_modified, deleted_at, server_version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(s rowScanner) (*models.Reminder, error) {
	var (
		r                         models.Reminder
		completed, allDay         int
		created, updated, deleted string
		priority, status          string
		lastModified              int64
	)
	err := s.Scan(&r.LocalID, &r.ID, &r.Text, &completed, &r.ReminderDate, &r.ReminderTime,
		&allDay, &priority, &created, &updated, &status, &lastModified, &deleted, &r.ServerVersion)
	if err != nil {
		return nil, err
	}
	r.Completed = completed != 0
	r.IsAllDay = allDay != 0
	r.Priority = models.Priority(priority)
	r.SyncStatus = models.SyncStatus(status)
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	r.LastModified = time.Unix(0, lastModified).UTC()
	if deleted != "" {
		t := parseTime(deleted)
		r.DeletedAt = &t
	}
	return &r, nil
}

func reminderArgs(r *models.Reminder) []any {
	deleted := ""
	if r.DeletedAt != nil {
		deleted = formatTime(*r.DeletedAt)
	}
	return []any{r.LocalID, r.ID, r.Text, boolInt(r.Completed), r.ReminderDate, r.ReminderTime,
		boolInt(r.IsAllDay), string(r.Priority), formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
		string(r.SyncStatus), r.LastModified.UnixNano(), deleted, r.ServerVersion}
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

// putTx upserts r, stamping LastModified.
func (db *DB) putTx(tx execer, r *models.Reminder) error {
	if r.LocalID == "" {
		return errors.New("reminder has no local id")
	}
	if r.SyncStatus == "" {
		r.SyncStatus = models.StatusSynced
	}
	if r.Priority == "" {
		r.Priority = models.PriorityMedium
	}
	r.LastModified = db.stamp()
	_, err := tx.Exec(`INSERT OR REPLACE INTO reminders (`+reminderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, reminderArgs(r)...)
	return err
}

func getTx(q execer, localID string) (*models.Reminder, error) {
	r, err := scanReminder(q.QueryRow(`SELECT `+reminderColumns+` FROM reminders WHERE local_id = ?`, localID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reminder %s: %w", localID, ErrNotFound)
	}
	return r, err
}

// Get returns the reminder with the given local id, including tombstones.
func (db *DB) Get(localID string) (*models.Reminder, error) {
	r, err := getTx(db.conn, localID)
	return r, wrap("get", err)
}

// GetByServerID returns the reminder the server knows as id.
func (db *DB) GetByServerID(id int64) (*models.Reminder, error) {
	if id == 0 {
		return nil, fmt.Errorf("server id 0: %w", ErrNotFound)
	}
	r, err := getByServerIDTx(db.conn, id)
	return r, wrap("get by server id", err)
}

func getByServerIDTx(q execer, id int64) (*models.Reminder, error) {
	r, err := scanReminder(q.QueryRow(`SELECT `+reminderColumns+` FROM reminders
		WHERE server_id = ? ORDER BY local_id LIMIT 1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("server id %d: %w", id, ErrNotFound)
	}
	return r, err
}

// Put writes r and stamps r.LastModified.
func (db *DB) Put(r *models.Reminder) error {
	return db.withTx("put", func(tx *sql.Tx) error {
		return db.putTx(tx, r)
	})
}

// PutAll writes pulled rows in one transaction. A row whose server id is
// already stored takes over that row's local id. Rows whose stored copy is
// identical are skipped so their lastModified is unchanged, and stored rows
// that are PENDING or CONFLICT are left alone. It returns the number of rows
// written.
func (db *DB) PutAll(rows []models.Reminder) (int, error) {
	written := 0
	err := db.withTx("put all", func(tx *sql.Tx) error {
		written = 0
		for i := range rows {
			r := rows[i]
			if r.ID != 0 {
				owner, err := getByServerIDTx(tx, r.ID)
				switch {
				case errors.Is(err, ErrNotFound):
				case err != nil:
					return err
				default:
					r.LocalID = owner.LocalID
				}
			}
			cur, err := getTx(tx, r.LocalID)
			switch {
			case errors.Is(err, ErrNotFound):
			case err != nil:
				return err
			case cur.SyncStatus != models.StatusSynced:
				continue
			case cur.SameContent(r):
				continue
			}
			if err := db.putTx(tx, &r); err != nil {
				return fmt.Errorf("put %s: %w", r.LocalID, err)
			}
			written++
		}
		return nil
	})
	return written, err
}

// PruneSynced removes SYNCED rows that have a server id not present in keep.
// Used after a complete pull snapshot. It returns the removed local ids.
func (db *DB) PruneSynced(keep map[int64]bool) ([]string, error) {
	var removed []string
	err := db.withTx("prune", func(tx *sql.Tx) error {
		removed = nil
		rows, err := tx.Query(`SELECT local_id, server_id FROM reminders
			WHERE sync_status = ? AND server_id != 0`, string(models.StatusSynced))
		if err != nil {
			return err
		}
		var stale []string
		for rows.Next() {
			var localID string
			var serverID int64
			if err := rows.Scan(&localID, &serverID); err != nil {
				rows.Close()
				return err
			}
			if !keep[serverID] {
				stale = append(stale, localID)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range stale {
			if err := removeTx(tx, id); err != nil {
				return err
			}
		}
		removed = stale
		return nil
	})
	return removed, err
}

func removeTx(tx *sql.Tx, localID string) error {
	for _, q := range []string{
		`DELETE FROM reminders WHERE local_id = ?`,
		`DELETE FROM operations WHERE local_id = ?`,
		`DELETE FROM sync_conflicts WHERE local_id = ?`,
	} {
		if _, err := tx.Exec(q, localID); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a reminder together with its queued operations and any
// stored conflict. Removing a missing row is not an error.
func (db *DB) Remove(localID string) error {
	return db.withTx("remove", func(tx *sql.Tx) error {
		return removeTx(tx, localID)
	})
}

// List returns live (non-tombstoned) reminders, newest first.
func (db *DB) List() ([]models.Reminder, error) {
	return db.ListFiltered(models.ReminderFilter{})
}

// ListAll returns every row including tombstones.
func (db *DB) ListAll() ([]models.Reminder, error) {
	return db.ListFiltered(models.ReminderFilter{IncludeDeleted: true})
}

// ListByStatus returns live reminders with the given sync status.
func (db *DB) ListByStatus(status models.SyncStatus) ([]models.Reminder, error) {
	return db.ListFiltered(models.ReminderFilter{Status: status})
}

// ListByDateRange returns live reminders dated within [from, to]. Either
// bound may be empty.
func (db *DB) ListByDateRange(from, to string) ([]models.Reminder, error) {
	return db.ListFiltered(models.ReminderFilter{From: from, To: to})
}

// Search returns live reminders whose text contains query, case-insensitive.
func (db *DB) Search(query string) ([]models.Reminder, error) {
	return db.ListFiltered(models.ReminderFilter{Query: query})
}

// ListFiltered returns reminders matching f ordered by creation time, newest
// first.
func (db *DB) ListFiltered(f models.ReminderFilter) ([]models.Reminder, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeDeleted {
		where = append(where, "deleted_at = ''")
	}
	if f.Completed != nil {
		where = append(where, "completed = ?")
		args = append(args, boolInt(*f.Completed))
	}
	if f.Priority != "" {
		where = append(where, "priority = ?")
		args = append(args, string(f.Priority))
	}
	if f.Status != "" {
		where = append(where, "sync_status = ?")
		args = append(args, string(f.Status))
	}
	if f.From != "" {
		where = append(where, "reminder_date >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, "reminder_date != '' AND reminder_date <= ?")
		args = append(args, f.To)
	}
	if f.Query != "" {
		where = append(where, "LOWER(text) LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(strings.ToLower(f.Query))+"%")
	}

	query := `SELECT ` + reminderColumns + ` FROM reminders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, local_id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, wrap("list", err)
	}
	defer rows.Close()

	var out []models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, wrap("list", err)
		}
		out = append(out, *r)
	}
	return out, wrap("list", rows.Err())
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
