package db

import (
	"os"
	"time"

	"github.com/marcus/rem/internal/models"
)

// Stats returns counts over the store plus file size and last sync time.
func (db *DB) Stats() (*models.Stats, error) {
	s := &models.Stats{ByPriority: make(map[models.Priority]int)}

	rows, err := db.conn.Query(`SELECT sync_status, priority, completed, deleted_at != '', COUNT(*)
		FROM reminders GROUP BY 1, 2, 3, 4`)
	if err != nil {
		return nil, wrap("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status, priority   string
			completed, deleted int
			n                  int
		)
		if err := rows.Scan(&status, &priority, &completed, &deleted, &n); err != nil {
			return nil, wrap("stats", err)
		}
		if deleted != 0 {
			s.Deleted += n
			continue
		}
		s.Total += n
		if completed != 0 {
			s.Completed += n
		}
		s.ByPriority[models.Priority(priority)] += n
		switch models.SyncStatus(status) {
		case models.StatusSynced:
			s.Synced += n
		case models.StatusPending:
			s.Pending += n
		case models.StatusConflict:
			s.Conflicts += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("stats", err)
	}

	if s.QueuedOps, err = db.CountPending(); err != nil {
		return nil, err
	}
	if s.FailedOps, err = db.CountFailed(); err != nil {
		return nil, err
	}
	last, err := db.GetSetting(SettingLastSyncTime)
	if err != nil {
		return nil, err
	}
	if last != "" {
		s.LastSyncTime, _ = time.Parse(time.RFC3339Nano, last)
	}
	if fi, err := os.Stat(db.Path()); err == nil {
		s.DBSizeBytes = fi.Size()
	}
	if s.SchemaVersion, err = db.GetSchemaVersion(); err != nil {
		return nil, err
	}
	return s, nil
}
