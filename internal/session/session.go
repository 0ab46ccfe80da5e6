// Package session drives the instrument, run and restore lifecycle around a
// module: it decides which modules are in scope, backs them up before they
// are rewritten, and afterwards drains the hits log and puts the originals
// back.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blackwell-systems/covkit/internal/backup"
	"github.com/blackwell-systems/covkit/internal/exclude"
	"github.com/blackwell-systems/covkit/internal/fsutil"
	"github.com/blackwell-systems/covkit/internal/hits"
	"github.com/blackwell-systems/covkit/internal/scanner"
	"github.com/blackwell-systems/covkit/internal/symbols"
)

// Deps are the collaborators a Session uses.
type Deps struct {
	Scanner *scanner.Scanner
	Backups *backup.Store
	Hits    *hits.Store
	Logger  zerolog.Logger

	// Identifier distinguishes this session's backups. A random UUID is
	// used when empty.
	Identifier string

	// OnRestore, if set, is called with each module Finish is about to
	// restore.
	OnRestore func(module string)
}

// Session runs one instrumentation lifecycle.
type Session struct {
	scanner *scanner.Scanner
	backups *backup.Store
	hits    *hits.Store
	logger  zerolog.Logger
	id      string

	onRestore func(module string)
}

// New creates a Session. Scanner defaults to scanner.New().
func New(d Deps) *Session {
	if d.Scanner == nil {
		d.Scanner = scanner.New()
	}
	if d.Identifier == "" {
		d.Identifier = uuid.NewString()
	}
	return &Session{
		scanner: d.Scanner,
		backups: d.Backups,
		hits:    d.Hits,
		logger:  d.Logger.With().Str("component", "session").Str("id", d.Identifier).Logger(),
		id:      d.Identifier,

		onRestore: d.OnRestore,
	}
}

// Identifier returns the backup identifier used by the session.
func (s *Session) Identifier() string {
	return s.id
}

// Skip reasons recorded in a Plan.
const (
	ReasonExcluded      = "excluded"
	ReasonNoSymbols     = "no symbols"
	ReasonNotExecutable = "not executable"
)

// Skipped is a candidate module left out of a Plan.
type Skipped struct {
	Path   string
	Reason string
}

// Plan lists the modules a session backed up and may rewrite.
type Plan struct {
	Identifier string
	// Modules were backed up and must be restored by Finish.
	Modules []string
	Skipped []Skipped
	// Exclusions is the resolved exclusion set; check Defined before use.
	Exclusions exclude.Set
}

// Prepare selects modulePath and its dependencies, minus files matched by
// rules under base and modules without a symbol file, and backs up each
// selected module. If a symbol check or a backup fails, modules already
// backed up are restored before the error is returned.
func (s *Session) Prepare(modulePath string, rules []string, base string) (*Plan, error) {
	deps, err := s.scanner.GetDependencies(modulePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}

	excluded, err := exclude.Resolve(rules, base)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Identifier: s.id, Exclusions: excluded}
	for _, candidate := range append([]string{modulePath}, deps...) {
		if excluded.Contains(candidate) {
			plan.Skipped = append(plan.Skipped, Skipped{Path: candidate, Reason: ReasonExcluded})
			continue
		}

		has, err := symbols.HasSymbols(candidate)
		switch {
		case errors.Is(err, symbols.ErrNotExecutable):
			plan.Skipped = append(plan.Skipped, Skipped{Path: candidate, Reason: ReasonNotExecutable})
			continue
		case err != nil:
			return nil, errors.Join(fmt.Errorf("failed to inspect %s: %w", candidate, err), s.restore(plan.Modules, nil))
		case !has:
			plan.Skipped = append(plan.Skipped, Skipped{Path: candidate, Reason: ReasonNoSymbols})
			continue
		}

		if err := s.backups.Backup(candidate, s.id); err != nil {
			return nil, errors.Join(err, s.restore(plan.Modules, nil))
		}
		plan.Modules = append(plan.Modules, candidate)
	}

	s.logger.Info().
		Str("module", modulePath).
		Int("selected", len(plan.Modules)).
		Int("skipped", len(plan.Skipped)).
		Msg("session prepared")

	return plan, nil
}

// Finish drains the hits log at hitsPath into consume, then restores every
// module in plan. A missing hits log is logged and ignored. Every module is
// restored even if draining or an earlier restore fails; all errors are
// joined. The number of hits lines consumed is returned.
func (s *Session) Finish(plan *Plan, hitsPath string, consume func(line string) error) (int, error) {
	var errs []error

	n := 0
	if hitsPath != "" {
		var err error
		n, err = s.hits.Drain(hitsPath, consume)
		switch {
		case errors.Is(err, hits.ErrNotFound):
			s.logger.Info().Str("path", hitsPath).Msg("no hits log written")
		case err != nil:
			errs = append(errs, err)
		}
	}

	errs = append(errs, s.restore(plan.Modules, s.onRestore))

	if err := errors.Join(errs...); err != nil {
		return n, err
	}

	s.logger.Info().Int("restored", len(plan.Modules)).Int("hits", n).Msg("session finished")
	return n, nil
}

func (s *Session) restore(modules []string, notify func(string)) error {
	var errs []error
	for _, m := range modules {
		if notify != nil {
			notify(m)
		}
		if err := s.backups.Restore(m, s.id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CopyRuntime copies the tracker runtime at runtimePath next to modulePath,
// replacing any existing copy. Nothing is copied when modulePath is the
// runtime itself.
func (s *Session) CopyRuntime(modulePath, runtimePath string) error {
	if stem(modulePath) == stem(runtimePath) {
		return nil
	}

	dst := filepath.Join(filepath.Dir(modulePath), filepath.Base(runtimePath))
	if filepath.Clean(dst) == filepath.Clean(runtimePath) {
		return nil
	}
	if _, err := fsutil.CopyFile(runtimePath, dst, fsutil.Overwrite); err != nil {
		return fmt.Errorf("failed to copy runtime to %s: %w", dst, err)
	}

	s.logger.Debug().Str("runtime", runtimePath).Str("dest", dst).Msg("runtime copied")
	return nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
