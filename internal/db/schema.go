package db

const schema = `
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reminders (
    local_id TEXT PRIMARY KEY,
    server_id INTEGER NOT NULL DEFAULT 0,
    text TEXT NOT NULL,
    completed INTEGER NOT NULL DEFAULT 0,
    reminder_date TEXT NOT NULL DEFAULT '',
    reminder_time TEXT NOT NULL DEFAULT '',
    is_all_day INTEGER NOT NULL DEFAULT 0,
    priority TEXT NOT NULL DEFAULT 'MEDIUM',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    sync_status TEXT NOT NULL DEFAULT 'SYNCED',
    last_modified INTEGER NOT NULL,
    deleted_at TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reminders_server_id ON reminders(server_id);
CREATE INDEX IF NOT EXISTS idx_reminders_status ON reminders(sync_status);
CREATE INDEX IF NOT EXISTS idx_reminders_date ON reminders(reminder_date);

CREATE TABLE IF NOT EXISTS operations (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    target_id INTEGER NOT NULL DEFAULT 0,
    local_id TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_operations_local_id ON operations(local_id);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// SchemaVersion is the current schema version
const SchemaVersion = 3

// Migration defines a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
	// Column makes the migration a no-op when table.column already exists.
	Table, Column string
}

// Migrations is the list of all migrations in order
var Migrations = []Migration{
	{
		Version:     2,
		Description: "Conflict detection: server version on reminders and base version on operations",
		SQL: `ALTER TABLE reminders ADD COLUMN server_version TEXT NOT NULL DEFAULT '';
ALTER TABLE operations ADD COLUMN base_version TEXT NOT NULL DEFAULT '';`,
		Table:  "reminders",
		Column: "server_version",
	},
	{
		Version:     3,
		Description: "Terminal failure flag on operations and stored conflict snapshots",
		SQL: `ALTER TABLE operations ADD COLUMN failed INTEGER NOT NULL DEFAULT 0;
CREATE TABLE IF NOT EXISTS sync_conflicts (
    local_id TEXT PRIMARY KEY,
    server_data TEXT NOT NULL,
    server_deleted INTEGER NOT NULL DEFAULT 0,
    reason TEXT NOT NULL DEFAULT '',
    detected_at TEXT NOT NULL
);`,
		Table:  "operations",
		Column: "failed",
	},
}
