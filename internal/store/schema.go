package store

const schema = `
CREATE TABLE IF NOT EXISTS backups (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    module_path TEXT NOT NULL,
    identifier TEXT NOT NULL,
    backup_path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    checksum TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS hits_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL,
    line_count INTEGER NOT NULL,
    deleted BOOLEAN NOT NULL,
    consumed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_backups_identifier ON backups(identifier);
CREATE INDEX IF NOT EXISTS idx_backups_module ON backups(module_path, identifier);
CREATE INDEX IF NOT EXISTS idx_backups_path ON backups(backup_path);
`
