package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Backup operations

const backupColumns = `id, module_path, identifier, backup_path, size_bytes, checksum, status, created_at, updated_at`

// InsertBackup inserts a backup record and returns its ID.
// CreatedAt and UpdatedAt default to now when zero; Status defaults to pending.
func (s *Store) InsertBackup(b *Backup) (int64, error) {
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	if b.Status == "" {
		b.Status = StatusPending
	}

	query := `
		INSERT INTO backups
		(module_path, identifier, backup_path, size_bytes, checksum, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		b.ModulePath,
		b.Identifier,
		b.BackupPath,
		b.SizeBytes,
		b.Checksum,
		b.Status,
		b.CreatedAt.Format(time.RFC3339Nano),
		b.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, wrapQueryErr(err, "failed to insert backup of %s", b.ModulePath)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get backup ID: %w", err)
	}
	b.ID = id

	return id, nil
}

// GetPendingBackup returns the newest pending backup of modulePath under identifier.
func (s *Store) GetPendingBackup(modulePath, identifier string) (*Backup, error) {
	query := `SELECT ` + backupColumns + `
		FROM backups
		WHERE module_path = ? AND identifier = ? AND status = ?
		ORDER BY id DESC
		LIMIT 1
	`

	b, err := scanBackup(s.db.QueryRow(query, modulePath, identifier, StatusPending))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pending backup of %s (%s): %w", modulePath, identifier, ErrNotFound)
	}
	if err != nil {
		return nil, wrapQueryErr(err, "failed to get backup of %s", modulePath)
	}
	return b, nil
}

// FindPendingBackupByPath returns the newest pending backup stored at backupPath.
func (s *Store) FindPendingBackupByPath(backupPath string) (*Backup, error) {
	query := `SELECT ` + backupColumns + `
		FROM backups
		WHERE backup_path = ? AND status = ?
		ORDER BY id DESC
		LIMIT 1
	`

	b, err := scanBackup(s.db.QueryRow(query, backupPath, StatusPending))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pending backup at %s: %w", backupPath, ErrNotFound)
	}
	if err != nil {
		return nil, wrapQueryErr(err, "failed to find backup at %s", backupPath)
	}
	return b, nil
}

// ListBackups returns backups ordered newest first. Empty identifier or
// status match everything.
func (s *Store) ListBackups(identifier, status string) ([]*Backup, error) {
	var (
		where []string
		args  []any
	)
	if identifier != "" {
		where = append(where, "identifier = ?")
		args = append(args, identifier)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, status)
	}

	query := `SELECT ` + backupColumns + ` FROM backups`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapQueryErr(err, "failed to list backups")
	}
	defer rows.Close()

	var backups []*Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup row: %w", err)
		}
		backups = append(backups, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backups: %w", err)
	}

	return backups, nil
}

// UpdateBackupStatus sets the status of a backup record.
func (s *Store) UpdateBackupStatus(id int64, status string) error {
	query := `UPDATE backups SET status = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.Exec(query, status, time.Now().Format(time.RFC3339Nano), id)
	if err != nil {
		return wrapQueryErr(err, "failed to update backup %d", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("backup %d: %w", id, ErrNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackup(row rowScanner) (*Backup, error) {
	var b Backup
	var createdAt, updatedAt string

	err := row.Scan(
		&b.ID,
		&b.ModulePath,
		&b.Identifier,
		&b.BackupPath,
		&b.SizeBytes,
		&b.Checksum,
		&b.Status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at for backup %d: %w", b.ID, err)
	}
	b.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at for backup %d: %w", b.ID, err)
	}

	return &b, nil
}

// Hits log operations

// InsertHitsLog records that a hits log was consumed.
func (s *Store) InsertHitsLog(h *HitsLog) (int64, error) {
	if h.ConsumedAt.IsZero() {
		h.ConsumedAt = time.Now()
	}

	query := `
		INSERT INTO hits_logs (path, line_count, deleted, consumed_at)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.Exec(query,
		h.Path,
		h.LineCount,
		h.Deleted,
		h.ConsumedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, wrapQueryErr(err, "failed to insert hits log %s", h.Path)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get hits log ID: %w", err)
	}
	h.ID = id

	return id, nil
}

// ListHitsLogs returns consumed hits logs ordered newest first.
func (s *Store) ListHitsLogs() ([]*HitsLog, error) {
	query := `
		SELECT id, path, line_count, deleted, consumed_at
		FROM hits_logs
		ORDER BY id DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, wrapQueryErr(err, "failed to list hits logs")
	}
	defer rows.Close()

	var logs []*HitsLog
	for rows.Next() {
		var h HitsLog
		var consumedAt string

		if err := rows.Scan(&h.ID, &h.Path, &h.LineCount, &h.Deleted, &consumedAt); err != nil {
			return nil, fmt.Errorf("failed to scan hits log row: %w", err)
		}

		h.ConsumedAt, err = time.Parse(time.RFC3339Nano, consumedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse consumed_at for hits log %d: %w", h.ID, err)
		}

		logs = append(logs, &h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hits logs: %w", err)
	}

	return logs, nil
}
