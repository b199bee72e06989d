package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_equipment",
		Up: `
-- Managed network equipment
CREATE TABLE IF NOT EXISTS equipment (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    host TEXT NOT NULL,
    ssh_enabled BOOLEAN NOT NULL DEFAULT 0,
    ssh_port INTEGER NOT NULL DEFAULT 22,
    ssh_username TEXT,
    ssh_password TEXT,
    ssh_private_key TEXT,
    telnet_port INTEGER NOT NULL DEFAULT 23,
    http_enabled BOOLEAN NOT NULL DEFAULT 0,
    http_port INTEGER NOT NULL DEFAULT 80,
    http_protocol TEXT NOT NULL DEFAULT 'http',
    http_username TEXT,
    http_password TEXT,
    http_ignore_ssl BOOLEAN NOT NULL DEFAULT 0,
    auto_backup_enabled BOOLEAN NOT NULL DEFAULT 0,
    auto_backup_schedule TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_equipment_type ON equipment(type);

-- Storage providers
CREATE TABLE IF NOT EXISTS providers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    config TEXT NOT NULL DEFAULT '{}',
    is_active BOOLEAN NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`,
		Down: `
DROP TABLE IF EXISTS providers;
DROP TABLE IF EXISTS equipment;
`,
	},
	{
		Version: "002_backup_jobs",
		Up: `
-- One recurring backup job per equipment
CREATE TABLE IF NOT EXISTS backup_jobs (
    id TEXT PRIMARY KEY,
    equipment_id TEXT NOT NULL UNIQUE,
    provider_id TEXT,
    schedule_pattern TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT 1,
    last_run TIMESTAMP,
    next_run TIMESTAMP,
    status TEXT NOT NULL DEFAULT 'pending',
    last_error TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (equipment_id) REFERENCES equipment(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_backup_jobs_next_run ON backup_jobs(next_run);
CREATE INDEX IF NOT EXISTS idx_backup_jobs_active ON backup_jobs(is_active);
`,
		Down: `
DROP TABLE IF EXISTS backup_jobs;
`,
	},
	{
		Version: "003_backups",
		Up: `
-- Captured configuration artifacts
CREATE TABLE IF NOT EXISTS backups (
    id TEXT PRIMARY KEY,
    equipment_id TEXT NOT NULL,
    job_id TEXT,
    file_name TEXT NOT NULL,
    file_path TEXT NOT NULL,
    provider_id TEXT,
    provider_type TEXT NOT NULL,
    file_size INTEGER NOT NULL DEFAULT 0,
    checksum TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    sync_status TEXT NOT NULL DEFAULT 'not_synced',
    sync_provider_id TEXT,
    sync_provider_path TEXT,
    sync_error TEXT,
    sync_attempts INTEGER NOT NULL DEFAULT 0,
    last_sync_date TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_backups_equipment_id ON backups(equipment_id);
CREATE INDEX IF NOT EXISTS idx_backups_created_at ON backups(created_at);
CREATE INDEX IF NOT EXISTS idx_backups_sync_status ON backups(sync_status);
`,
		Down: `
DROP TABLE IF EXISTS backups;
`,
	},
	{
		Version: "004_history",
		Up: `
-- Append-only execution and sync ledger
CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    subject_id TEXT NOT NULL,
    action TEXT NOT NULL,
    status TEXT NOT NULL,
    message TEXT,
    error_kind TEXT,
    details TEXT,
    timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_history_subject ON history(subject_id);
CREATE INDEX IF NOT EXISTS idx_history_action ON history(action);
CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history(timestamp);

CREATE TRIGGER IF NOT EXISTS history_no_update
BEFORE UPDATE ON history
BEGIN
    SELECT RAISE(ABORT, 'history is append-only');
END;
`,
		Down: `
DROP TRIGGER IF EXISTS history_no_update;
DROP TABLE IF EXISTS history;
`,
	},
}
