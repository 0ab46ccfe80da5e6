// Package hits reads and deletes the hits log an instrumented module writes
// while tests run.
//
// The log is line oriented; lines are returned as opaque strings. Opening and
// deleting the log are retried because the test host may still hold the file
// when the run ends. Reads after a successful open are not retried.
package hits

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/covkit/internal/retry"
	"github.com/blackwell-systems/covkit/internal/store"
)

// ErrNotFound is returned when the hits log does not exist. It also matches
// fs.ErrNotExist. Missing logs are reported at once, without retrying.
var ErrNotFound = errors.New("hits log not found")

// MaxLineSize is the longest hits log line ReadLines accepts, in bytes.
const MaxLineSize = 1 << 20

// Ledger records consumed hits logs. *store.Store satisfies it.
type Ledger interface {
	InsertHitsLog(h *store.HitsLog) (int64, error)
}

// Store provides retried access to hits logs.
type Store struct {
	policy    retry.Policy
	retryOpts []retry.Option
	ledger    Ledger
	logger    zerolog.Logger

	open   func(name string) (*os.File, error)
	remove func(name string) error
}

// Option configures a Store.
type Option func(*Store)

// WithLedger records drained logs in l.
func WithLedger(l Ledger) Option {
	return func(s *Store) {
		s.ledger = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With().Str("component", "hits").Logger()
	}
}

// WithRetryOptions passes options to the executor used for open and delete.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *Store) {
		s.retryOpts = append(s.retryOpts, opts...)
	}
}

// NewStore creates a Store using policy for open and delete.
func NewStore(policy retry.Policy, opts ...Option) *Store {
	s := &Store{
		policy: policy,
		logger: zerolog.Nop(),
		open:   os.Open,
		remove: os.Remove,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) executor() *retry.Executor {
	opts := append([]retry.Option{retry.WithLogger(s.logger)}, s.retryOpts...)
	return retry.NewExecutor(s.policy, opts...)
}

func notFound(path string, err error) error {
	return retry.Permanent(fmt.Errorf("%s: %w: %w", path, ErrNotFound, err))
}

// Lines is a lazy, single-pass sequence of hits log lines. Use it like a
// bufio.Scanner and Close it when done.
type Lines struct {
	path    string
	f       *os.File
	scanner *bufio.Scanner
	count   int
}

// Scan advances to the next line.
func (l *Lines) Scan() bool {
	if l.scanner.Scan() {
		l.count++
		return true
	}
	return false
}

// Text returns the current line without its line terminator.
func (l *Lines) Text() string {
	return l.scanner.Text()
}

// Err returns the first read error, if any.
func (l *Lines) Err() error {
	if err := l.scanner.Err(); err != nil {
		return fmt.Errorf("failed to read hits log %s: %w", l.path, err)
	}
	return nil
}

// Count returns the number of lines scanned so far.
func (l *Lines) Count() int {
	return l.count
}

// Close releases the underlying file.
func (l *Lines) Close() error {
	return l.f.Close()
}

// ReadLines opens the hits log at path. Only the open is retried.
//
// Lines longer than MaxLineSize bytes stop the scan: Scan returns false and
// Err reports bufio.ErrTooLong.
func (s *Store) ReadLines(path string) (*Lines, error) {
	f, err := retry.Do(s.executor(), func() (*os.File, error) {
		f, err := s.open(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(path, err)
		}
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open hits log %s: %w", path, err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	return &Lines{path: path, f: f, scanner: scanner}, nil
}

// DeleteLines deletes the hits log at path, retrying while it is locked.
//
// Deleting a log that does not exist is an error matching ErrNotFound; it is
// not treated as success and is not retried.
func (s *Store) DeleteLines(path string) error {
	err := s.executor().Retry(func() error {
		err := s.remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(path, err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete hits log %s: %w", path, err)
	}
	return nil
}

// Drain passes every line of the hits log to fn, then deletes the log and
// returns the number of lines read. If fn or a read fails the log is kept.
func (s *Store) Drain(path string, fn func(line string) error) (int, error) {
	lines, err := s.ReadLines(path)
	if err != nil {
		return 0, err
	}

	for lines.Scan() {
		if err := fn(lines.Text()); err != nil {
			lines.Close()
			return lines.Count(), fmt.Errorf("failed to consume line %d of %s: %w", lines.Count(), path, err)
		}
	}
	if err := lines.Err(); err != nil {
		lines.Close()
		return lines.Count(), err
	}
	if err := lines.Close(); err != nil {
		return lines.Count(), fmt.Errorf("failed to close hits log %s: %w", path, err)
	}

	if err := s.DeleteLines(path); err != nil {
		return lines.Count(), err
	}

	s.logger.Debug().Str("path", path).Int("lines", lines.Count()).Msg("hits log drained")

	if s.ledger != nil {
		if _, err := s.ledger.InsertHitsLog(&store.HitsLog{
			Path:      path,
			LineCount: lines.Count(),
			Deleted:   true,
		}); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to record drained hits log")
		}
	}

	return lines.Count(), nil
}
