// Package backup stages copies of modules before they are rewritten in place
// and restores them afterwards.
//
// A backup of module /app/bin/App.dll under identifier "run42" lives at
// <dir>/App_run42.dll, where dir defaults to the platform temporary directory.
// The location is derived from the module path and identifier alone, so
// Backup and Restore must be called with identical identifiers, and backups
// left behind by a crashed process can be found again by identifier.
//
// Restores go through a retry executor because the module may still be held
// open by a test host, indexer or antivirus scanner when the run finishes.
package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/covkit/internal/fsutil"
	"github.com/blackwell-systems/covkit/internal/retry"
	"github.com/blackwell-systems/covkit/internal/store"
)

var (
	// ErrModuleNotFound is returned by Backup when the module does not exist.
	ErrModuleNotFound = errors.New("module not found")
	// ErrBackupNotFound is returned by Restore when no backup record exists on disk.
	ErrBackupNotFound = errors.New("backup not found")
	// ErrBackupExists is returned by Backup when a record for the same module and
	// identifier is already staged.
	ErrBackupExists = errors.New("backup already exists")
	// ErrChecksumMismatch is returned when a restored module does not match the
	// checksum recorded at backup time.
	ErrChecksumMismatch = errors.New("restored module does not match backup checksum")
	// ErrInvalidIdentifier is returned for empty identifiers or identifiers
	// containing path separators.
	ErrInvalidIdentifier = errors.New("invalid backup identifier")
)

// Ledger records staged backups. *store.Store satisfies it.
type Ledger interface {
	InsertBackup(b *store.Backup) (int64, error)
	GetPendingBackup(modulePath, identifier string) (*store.Backup, error)
	FindPendingBackupByPath(backupPath string) (*store.Backup, error)
	UpdateBackupStatus(id int64, status string) error
}

// Store stages and restores module backups.
type Store struct {
	dir       string
	policy    retry.Policy
	retryOpts []retry.Option
	ledger    Ledger
	logger    zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLedger records every backup in l. Without a ledger, checksums are not
// verified and RestoreAll is unavailable.
func WithLedger(l Ledger) Option {
	return func(s *Store) {
		s.ledger = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With().Str("component", "backup").Logger()
	}
}

// WithRetryOptions passes options to the executor used for restores and cleanup.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Store) {
		s.retryOpts = append(s.retryOpts, opts...)
	}
}

// New creates a Store keeping backups in dir. An empty dir means os.TempDir().
func New(dir string, policy retry.Policy, opts ...Option) *Store {
	if dir == "" {
		dir = os.TempDir()
	}
	s := &Store{
		dir:    dir,
		policy: policy,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the directory holding backups.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) executor() *retry.Executor {
	opts := append([]retry.Option{retry.WithLogger(s.logger)}, s.retryOpts...)
	return retry.NewExecutor(s.policy, opts...)
}

// Path returns the backup location for modulePath under identifier:
// <dir>/<name without extension>_<identifier><extension>.
func (s *Store) Path(modulePath, identifier string) string {
	base := filepath.Base(modulePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(s.dir, name+"_"+identifier+ext)
}

func validateIdentifier(identifier string) error {
	if identifier == "" || strings.ContainsAny(identifier, `/\`) || identifier == "." || identifier == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}
	return nil
}

// Backup copies modulePath's current bytes to its backup location.
// It is not retried: a fresh backup destination is normally uncontended.
func (s *Store) Backup(modulePath, identifier string) error {
	if err := validateIdentifier(identifier); err != nil {
		return err
	}
	backupPath := s.Path(modulePath, identifier)

	if _, err := os.Stat(modulePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to back up %s: %w", modulePath, ErrModuleNotFound)
		}
		return fmt.Errorf("failed to back up %s: %w", modulePath, err)
	}

	res, err := fsutil.CopyFile(modulePath, backupPath, fsutil.Exclusive)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("failed to back up %s to %s: %w", modulePath, backupPath, ErrBackupExists)
		}
		return fmt.Errorf("failed to back up %s to %s: %w", modulePath, backupPath, err)
	}

	if s.ledger != nil {
		_, err := s.ledger.InsertBackup(&store.Backup{
			ModulePath: modulePath,
			Identifier: identifier,
			BackupPath: backupPath,
			SizeBytes:  res.Size,
			Checksum:   res.Checksum,
		})
		if err != nil {
			// An unrecorded backup would never be verified.
			os.Remove(backupPath)
			return fmt.Errorf("failed to record backup of %s: %w", modulePath, err)
		}
	}

	s.logger.Debug().
		Str("module", modulePath).
		Str("backup", backupPath).
		Int64("size", res.Size).
		Msg("module backed up")

	return nil
}

// Restore copies the backup of modulePath back over it and deletes the backup.
//
// Copy and delete are retried together: a failed delete repeats the copy on the
// next attempt. On success modulePath holds exactly the bytes captured by Backup
// and the backup no longer exists. When retries are exhausted the backup is left
// on disk and a *retry.ExhaustedError is returned.
func (s *Store) Restore(modulePath, identifier string) error {
	if err := validateIdentifier(identifier); err != nil {
		return err
	}
	backupPath := s.Path(modulePath, identifier)

	if _, err := os.Stat(backupPath); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to restore %s: %s: %w", modulePath, backupPath, ErrBackupNotFound)
	}

	copied := false
	err := s.executor().Retry(func() error {
		if _, err := os.Stat(backupPath); errors.Is(err, fs.ErrNotExist) {
			if copied {
				// A previous attempt's delete took effect despite reporting failure.
				return nil
			}
			return retry.Permanent(fmt.Errorf("%s: %w", backupPath, ErrBackupNotFound))
		}
		if _, err := fsutil.CopyFile(backupPath, modulePath, fsutil.Overwrite); err != nil {
			return err
		}
		copied = true
		return os.Remove(backupPath)
	})
	if err != nil {
		return fmt.Errorf("failed to restore %s from %s: %w", modulePath, backupPath, err)
	}

	s.logger.Debug().
		Str("module", modulePath).
		Str("backup", backupPath).
		Msg("module restored")

	return s.settle(modulePath, identifier)
}

// settle verifies the restored module against the ledger and marks the record restored.
func (s *Store) settle(modulePath, identifier string) error {
	if s.ledger == nil {
		return nil
	}

	rec, err := s.ledger.GetPendingBackup(modulePath, identifier)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug().Str("module", modulePath).Msg("no ledger record for restored module")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up backup of %s: %w", modulePath, err)
	}

	sum, err := fsutil.Checksum(modulePath)
	if err != nil {
		return fmt.Errorf("failed to verify %s: %w", modulePath, err)
	}
	if sum != rec.Checksum {
		return fmt.Errorf("%s: got %s, recorded %s: %w", modulePath, sum, rec.Checksum, ErrChecksumMismatch)
	}

	if err := s.ledger.UpdateBackupStatus(rec.ID, store.StatusRestored); err != nil {
		return fmt.Errorf("failed to mark backup of %s restored: %w", modulePath, err)
	}
	return nil
}
