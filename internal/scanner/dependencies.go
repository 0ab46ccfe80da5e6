package scanner

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDependencies returns the path of every binary in modulePath's directory
// except modulePath itself. Order follows directory enumeration and callers
// must not rely on it. Directories are skipped; symlinks count when they
// resolve to a regular file.
func (s *Scanner) GetDependencies(modulePath string) ([]string, error) {
	dir := filepath.Dir(modulePath)
	self := filepath.Base(modulePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory of %s: %w", modulePath, err)
	}

	var deps []string
	for _, entry := range entries {
		name := entry.Name()
		if name == self || !s.matches(name) {
			continue
		}

		fullPath := filepath.Join(dir, name)
		switch {
		case entry.Type().IsRegular():
		case entry.Type()&os.ModeSymlink != 0:
			info, err := os.Stat(fullPath)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
		default:
			continue
		}

		deps = append(deps, fullPath)
	}

	return deps, nil
}
