// Package scanner enumerates the sibling binaries of a module.
package scanner

import "strings"

// DefaultExtensions are the binary extensions considered when none are given.
var DefaultExtensions = []string{".dll"}

// Scanner lists binaries sharing a directory with a module.
type Scanner struct {
	exts []string
}

// New creates a Scanner matching the given extensions, case-insensitively.
// A leading dot is optional. With no extensions, DefaultExtensions is used.
func New(exts ...string) *Scanner {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	s := &Scanner{}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.exts = append(s.exts, ext)
	}
	return s
}

// Extensions returns the normalized extensions the scanner matches.
func (s *Scanner) Extensions() []string {
	out := make([]string, len(s.exts))
	copy(out, s.exts)
	return out
}

func (s *Scanner) matches(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range s.exts {
		if strings.HasSuffix(name, ext) && len(name) > len(ext) {
			return true
		}
	}
	return false
}
