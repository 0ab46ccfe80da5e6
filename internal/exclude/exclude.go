// Package exclude resolves glob exclusion rules into the set of files they
// match.
//
// Rules are include-style globs relative to a base directory and support
// `*`, `**`, `?`, character classes and `{a,b}` alternation. Negation is not
// supported. Absolute rules are evaluated against their own fixed prefix.
// Backslashes are read as path separators, so meta characters cannot be
// escaped.
package exclude

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Set is the result of resolving exclusion rules. The zero value is None.
type Set struct {
	defined bool
	files   map[string]struct{}
}

// None is the Set returned when no rules were given.
var None = Set{}

// Defined reports whether any rules were given. A defined Set may still be
// empty when the rules matched nothing.
func (s Set) Defined() bool {
	return s.defined
}

// Len returns the number of matched files.
func (s Set) Len() int {
	return len(s.files)
}

// Contains reports whether path was matched. path is made absolute first.
func (s Set) Contains(p string) bool {
	if len(s.files) == 0 {
		return false
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	_, ok := s.files[abs]
	return ok
}

// Files returns the matched absolute paths in sorted order.
func (s Set) Files() []string {
	out := make([]string, 0, len(s.files))
	for f := range s.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Resolve evaluates rules against the tree rooted at base and returns the
// matched files as absolute paths. Blank rules are ignored; if none remain,
// Resolve returns None. Only files are matched, never directories.
func Resolve(rules []string, base string) (Set, error) {
	patterns := normalize(rules)
	if len(patterns) == 0 {
		return None, nil
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return None, fmt.Errorf("failed to resolve base directory %s: %w", base, err)
	}

	set := Set{defined: true, files: make(map[string]struct{})}
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return None, fmt.Errorf("invalid exclusion pattern %q: %w", pattern, doublestar.ErrBadPattern)
		}

		root, rel := absBase, pattern
		if path.IsAbs(pattern) || filepath.IsAbs(filepath.FromSlash(pattern)) {
			root, rel = splitAbsolute(pattern)
		}

		matches, err := doublestar.Glob(os.DirFS(root), rel, doublestar.WithFilesOnly())
		if err != nil {
			return None, fmt.Errorf("failed to evaluate exclusion pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			set.files[filepath.Join(root, filepath.FromSlash(m))] = struct{}{}
		}
	}

	return set, nil
}

// normalize drops blank rules and converts separators to slashes, which is
// what doublestar matches against. Rules written on Windows use backslashes
// regardless of the host platform.
func normalize(rules []string) []string {
	var out []string
	for _, r := range rules {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		r = strings.ReplaceAll(r, `\`, "/")
		r = strings.TrimPrefix(r, "./")
		out = append(out, r)
	}
	return out
}

// splitAbsolute splits an absolute pattern into the directory preceding its
// first meta character and the remaining relative pattern.
func splitAbsolute(pattern string) (string, string) {
	dir, rel := doublestar.SplitPattern(pattern)
	return filepath.FromSlash(dir), rel
}
