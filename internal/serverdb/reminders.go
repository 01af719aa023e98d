package serverdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/rem/internal/models"
)

const reminderColumns = `id, text, completed, reminder_date, reminder_time, is_all_day, priority, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(s rowScanner) (models.RemoteReminder, error) {
	var r models.RemoteReminder
	var priority string
	var created, updated int64
	err := s.Scan(&r.ID, &r.Text, &r.Completed, &r.ReminderDate, &r.ReminderTime, &r.IsAllDay, &priority, &created, &updated)
	if err != nil {
		return r, err
	}
	r.Priority = models.Priority(priority)
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return r, nil
}

// ListReminders returns one page of the user's reminders in id order along
// with the total count. Pages are zero-based.
func (db *ServerDB) ListReminders(userID string, page, size int) ([]models.RemoteReminder, int64, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}

	var total int64
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM reminders WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reminders: %w", err)
	}

	rows, err := db.conn.Query(
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? ORDER BY id LIMIT ? OFFSET ?`,
		userID, size, page*size,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	out, err := collectReminders(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ListAllReminders returns every reminder the user owns in id order.
func (db *ServerDB) ListAllReminders(userID string) ([]models.RemoteReminder, error) {
	rows, err := db.conn.Query(`SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

func collectReminders(rows *sql.Rows) ([]models.RemoteReminder, error) {
	out := []models.RemoteReminder{}
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reminders: iterate: %w", err)
	}
	return out, nil
}

// GetReminder returns one of the user's reminders, or ErrNotFound.
func (db *ServerDB) GetReminder(userID string, id int64) (*models.RemoteReminder, error) {
	return getReminder(db.conn, userID, id)
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getReminder(q querier, userID string, id int64) (*models.RemoteReminder, error) {
	r, err := scanReminder(q.QueryRow(
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? AND id = ?`, userID, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return &r, nil
}

// CreateReminder stores r for the user. The server assigns id and timestamps.
func (db *ServerDB) CreateReminder(userID string, r models.RemoteReminder) (*models.RemoteReminder, error) {
	now := time.Now().UTC()
	res, err := db.conn.Exec(
		`INSERT INTO reminders (user_id, text, completed, reminder_date, reminder_time, is_all_day, priority, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, r.Text, r.Completed, r.ReminderDate, r.ReminderTime, r.IsAllDay, string(r.Priority),
		now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert reminder: %w", err)
	}
	r.ID = id
	r.CreatedAt = time.Unix(0, now.UnixNano()).UTC()
	r.UpdatedAt = r.CreatedAt
	return &r, nil
}

// UpdateReminder applies fn to the stored copy and saves the result. When
// ifMatch is non-empty it must equal the stored version, otherwise the
// update is refused with ErrVersionMismatch. Every write moves updatedAt
// forward so versions never repeat.
func (db *ServerDB) UpdateReminder(userID string, id int64, ifMatch string, fn func(models.RemoteReminder) (models.RemoteReminder, error)) (*models.RemoteReminder, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	cur, err := getReminder(tx, userID, id)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != cur.Version() {
		return nil, fmt.Errorf("reminder %d at %s: %w", id, cur.Version(), ErrVersionMismatch)
	}

	next, err := fn(*cur)
	if err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = nextStamp(cur.UpdatedAt)

	_, err = tx.Exec(
		`UPDATE reminders SET text = ?, completed = ?, reminder_date = ?, reminder_time = ?, is_all_day = ?, priority = ?, updated_at = ?
		 WHERE user_id = ? AND id = ?`,
		next.Text, next.Completed, next.ReminderDate, next.ReminderTime, next.IsAllDay, string(next.Priority),
		next.UpdatedAt.UnixNano(), userID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return &next, nil
}

// DeleteReminder removes one of the user's reminders, with the same
// ifMatch rule as UpdateReminder.
func (db *ServerDB) DeleteReminder(userID string, id int64, ifMatch string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	cur, err := getReminder(tx, userID, id)
	if err != nil {
		return err
	}
	if ifMatch != "" && ifMatch != cur.Version() {
		return fmt.Errorf("reminder %d at %s: %w", id, cur.Version(), ErrVersionMismatch)
	}
	if _, err := tx.Exec(`DELETE FROM reminders WHERE user_id = ? AND id = ?`, userID, id); err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return tx.Commit()
}

// CountReminders returns how many reminders the user owns.
func (db *ServerDB) CountReminders(userID string) (int64, error) {
	var n int64
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM reminders WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reminders: %w", err)
	}
	return n, nil
}

func nextStamp(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}
