package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blackwell-systems/covkit/internal/store"
)

// Leftovers returns the backup files in the store directory that belong to
// identifier, sorted by path. These are backups that were staged and never
// restored, typically because the owning process crashed.
//
// File names alone are ambiguous: App_run_1.dll may be identifier "1" or
// "run_1". With a ledger, only files whose pending record carries identifier
// are returned. Without one, every file whose name ends in _<identifier> is.
func (s *Store) Leftovers(identifier string) ([]string, error) {
	paths, err := s.candidates(identifier)
	if err != nil {
		return nil, err
	}
	if s.ledger == nil {
		return paths, nil
	}

	owned := paths[:0]
	for _, p := range paths {
		rec, err := s.ledger.FindPendingBackupByPath(p)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up backup %s: %w", p, err)
		}
		if rec.Identifier == identifier {
			owned = append(owned, p)
		}
	}
	return owned, nil
}

// candidates lists files whose name ends in _<identifier>, before or after
// the extension.
func (s *Store) candidates(identifier string) ([]string, error) {
	if err := validateIdentifier(identifier); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory %s: %w", s.dir, err)
	}

	suffix := "_" + identifier
	var paths []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if (strings.HasSuffix(stem, suffix) && len(stem) > len(suffix)) ||
			(strings.HasSuffix(name, suffix) && len(name) > len(suffix)) {
			paths = append(paths, filepath.Join(s.dir, name))
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// Clean deletes every leftover backup recorded for identifier and returns
// the number removed. Unrecorded files are left alone, since they may be
// another session's only copy of a module. Deletions are retried; failures
// for individual files are joined.
func (s *Store) Clean(identifier string) (int, error) {
	if s.ledger == nil {
		return 0, errors.New("cleaning leftovers requires a backup ledger")
	}

	paths, err := s.Leftovers(identifier)
	if err != nil {
		return 0, err
	}

	exec := s.executor()
	removed := 0
	var errs []error
	for _, p := range paths {
		if err := exec.Retry(func() error { return os.Remove(p) }); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete backup %s: %w", p, err))
			continue
		}
		removed++
		s.markDiscarded(p)
	}

	s.logger.Info().
		Str("identifier", identifier).
		Int("removed", removed).
		Int("failed", len(errs)).
		Msg("leftover backups cleaned")

	return removed, errors.Join(errs...)
}

func (s *Store) markDiscarded(backupPath string) {
	if s.ledger == nil {
		return
	}
	rec, err := s.ledger.FindPendingBackupByPath(backupPath)
	if err != nil {
		return
	}
	if err := s.ledger.UpdateBackupStatus(rec.ID, store.StatusDiscarded); err != nil {
		s.logger.Warn().Err(err).Str("backup", backupPath).Msg("failed to mark backup discarded")
	}
}

// RestoreAll restores every leftover backup for identifier to the module
// recorded in the ledger and returns the restored module paths. Files named
// for identifier but recorded under another identifier are skipped. Files
// with no ledger record are left in place and reported in the error.
func (s *Store) RestoreAll(identifier string) ([]string, error) {
	if s.ledger == nil {
		return nil, errors.New("restoring leftovers requires a backup ledger")
	}

	paths, err := s.candidates(identifier)
	if err != nil {
		return nil, err
	}

	var (
		restored []string
		errs     []error
	)
	for _, p := range paths {
		rec, err := s.ledger.FindPendingBackupByPath(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("no module recorded for backup %s: %w", p, err))
			continue
		}
		if rec.Identifier != identifier {
			continue
		}
		if err := s.Restore(rec.ModulePath, identifier); err != nil {
			errs = append(errs, err)
			continue
		}
		restored = append(restored, rec.ModulePath)
	}

	return restored, errors.Join(errs...)
}
