// Package retry provides bounded exponential-backoff execution for filesystem
// operations that may fail while another process holds a lock on the file.
//
// A Policy describes the backoff progression. An Executor runs operations
// under that policy in one of two shapes: Retry for effect-only operations
// and Do for operations that return data. Both shapes share the same
// backoff progression, so timing is identical between them.
//
// # Basic Usage
//
//	exec := retry.NewExecutor(retry.DefaultPolicy())
//
//	err := exec.Retry(func() error {
//	    return os.Remove(path)
//	})
//
//	f, err := retry.Do(exec, func() (*os.File, error) {
//	    return os.Open(path)
//	})
//
// # Backoff Strategy
//
// With the default policy the executor sleeps 6ms, 12ms, 24ms, ... between
// attempts and gives up after 10 attempts. There is no jitter and no
// cancellation: a sequence always runs to success or exhaustion.
//
// Every error is retried except those wrapped with Permanent, which stop the
// sequence immediately and are returned unwrapped.
package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// DefaultInitialDelay is the sleep before the second attempt.
	DefaultInitialDelay = 6 * time.Millisecond
	// DefaultMultiplier is applied to the delay after every failed attempt.
	DefaultMultiplier = 2.0
	// DefaultMaxAttempts is the total number of attempts, including the first.
	DefaultMaxAttempts = 10

	// maxDelay caps a single sleep.
	maxDelay = time.Hour
)

// Policy defines the backoff progression of a retried operation.
//
// The zero value is not usable; use DefaultPolicy or set every field.
type Policy struct {
	// InitialDelay is the sleep after the first failed attempt.
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`

	// Multiplier advances the delay after each failed attempt.
	// A multiplier of 2 yields d, 2d, 4d, ...
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`

	// MaxAttempts is the number of times the operation is called before
	// the last failure is returned. Must be at least 1.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

// DefaultPolicy returns the policy used for module restores and hits log
// access: 6ms initial delay, doubling, 10 attempts.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

// Validate reports whether the policy can drive an executor.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial delay must not be negative, got %s", p.InitialDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier)
	}
	return nil
}

// Delays returns the sleeps an operation that never succeeds would observe,
// in order. Its length is MaxAttempts-1.
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	b := p.backOff()
	b.Reset()
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	for {
		next := b.NextBackOff()
		if next == backoff.Stop {
			return delays
		}
		delays = append(delays, next)
	}
}

func (p Policy) backOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialDelay
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxInterval = maxDelay
	exp.MaxElapsedTime = 0
	return backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
}

// ExhaustedError is returned when every attempt allowed by a policy failed.
type ExhaustedError struct {
	// Attempts is the number of times the operation was called.
	Attempts int
	// Err is the failure returned by the last attempt.
	Err error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying. The executor stops at once and
// returns err itself, not an ExhaustedError.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Executor runs operations under a Policy.
//
// An Executor is not safe for concurrent use when a custom timer is installed,
// since the timer carries per-sequence state.
type Executor struct {
	policy Policy
	timer  backoff.Timer
	logger zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimer replaces the wall-clock sleep between attempts.
func WithTimer(t backoff.Timer) Option {
	return func(e *Executor) {
		e.timer = t
	}
}

// WithLogger sets the logger used to report failed attempts.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an Executor for the given policy.
func NewExecutor(policy Policy, opts ...Option) *Executor {
	e := &Executor{
		policy: policy,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Retry runs fn until it succeeds, returns a Permanent error, or the policy's
// attempts are exhausted.
func (e *Executor) Retry(fn func() error) error {
	_, err := Do(e, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do runs fn like Retry and returns the value produced by the successful attempt.
func Do[T any](e *Executor, fn func() (T, error)) (T, error) {
	attempts := 0
	permanent := false

	op := func() (T, error) {
		attempts++
		res, err := fn()
		var perm *backoff.PermanentError
		if err != nil && errors.As(err, &perm) {
			permanent = true
		}
		return res, err
	}

	notify := func(err error, next time.Duration) {
		e.logger.Debug().
			Err(err).
			Int("attempt", attempts).
			Dur("delay", next).
			Msg("attempt failed, retrying")
	}

	res, err := backoff.RetryNotifyWithTimerAndData(op, e.policy.backOff(), notify, e.timer)
	if err == nil {
		return res, nil
	}
	if permanent {
		return res, err
	}

	e.logger.Warn().
		Err(err).
		Int("attempts", attempts).
		Msg("retries exhausted")
	return res, &ExhaustedError{Attempts: attempts, Err: err}
}
