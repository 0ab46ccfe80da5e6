package scanner

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/blackwell-systems/covkit/internal/symbols"
)

// Module describes one binary found next to a module.
type Module struct {
	Path       string
	SizeBytes  int64
	ModTime    time.Time
	Executable bool // false when the file is not a PE image
	HasSymbols bool
}

// Inventory returns modulePath followed by its dependencies, each described
// with size and symbol file presence.
func (s *Scanner) Inventory(modulePath string) ([]*Module, error) {
	deps, err := s.GetDependencies(modulePath)
	if err != nil {
		return nil, err
	}

	paths := append([]string{modulePath}, deps...)
	modules := make([]*Module, 0, len(paths))
	for _, p := range paths {
		m, err := Describe(p)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// Describe stats path and checks it for a symbol file.
func Describe(path string) (*Module, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	m := &Module{
		Path:       path,
		SizeBytes:  info.Size(),
		ModTime:    info.ModTime(),
		Executable: true,
	}

	has, err := symbols.HasSymbols(path)
	switch {
	case errors.Is(err, symbols.ErrNotExecutable):
		m.Executable = false
	case err != nil:
		return nil, fmt.Errorf("failed to inspect %s: %w", path, err)
	default:
		m.HasSymbols = has
	}

	return m, nil
}
