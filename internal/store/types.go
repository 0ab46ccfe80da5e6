package store

import "time"

// Backup status values.
const (
	StatusPending   = "pending"
	StatusRestored  = "restored"
	StatusDiscarded = "discarded"
)

// Backup records a module copy staged before instrumentation.
type Backup struct {
	ID         int64
	ModulePath string
	Identifier string
	BackupPath string
	SizeBytes  int64
	Checksum   string // xxh3-64, hex
	Status     string // "pending", "restored" or "discarded"
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HitsLog records a consumed hits log.
type HitsLog struct {
	ID         int64
	Path       string
	LineCount  int
	Deleted    bool
	ConsumedAt time.Time
}
