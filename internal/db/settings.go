package db

import (
	"database/sql"
)

// Well-known setting keys.
const (
	SettingLastSyncTime = "lastSyncTime"
	SettingAuthHalted   = "authHalted"
	SettingLastError    = "lastSyncError"
)

// GetSetting returns the value for key, or "" if unset.
func (db *DB) GetSetting(key string) (string, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, wrap("get setting", err)
}

// SetSetting stores value under key.
func (db *DB) SetSetting(key, value string) error {
	return db.withTx("set setting", func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
		return err
	})
}

// DeleteSetting removes key.
func (db *DB) DeleteSetting(key string) error {
	return db.withTx("delete setting", func(tx *sql.Tx) error {
		_, err := tx.Exec(`DELETE FROM settings WHERE key = ?`, key)
		return err
	})
}

// ListSettings returns all settings.
func (db *DB) ListSettings() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, wrap("list settings", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, wrap("list settings", err)
		}
		out[k] = v
	}
	return out, wrap("list settings", rows.Err())
}
