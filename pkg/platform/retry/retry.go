// Package retry provides a bounded retry combinator for transient conflicts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted marks an operation that kept failing with a retryable error until the
// attempt budget ran out.
var ErrExhausted = errors.New("retry budget exhausted")

// ExhaustedError carries the attempt count and the last retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// Retrier re-runs an operation while it fails with an error accepted by its predicate.
type Retrier struct {
	attempts   int
	on         func(error) bool
	newBackOff func() backoff.BackOff
	notify     func(attempt int, err error)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithBackOff replaces the default jittered exponential delay between attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(r *Retrier) {
		if newBackOff != nil {
			r.newBackOff = newBackOff
		}
	}
}

// WithNotify registers a callback invoked after every failed attempt that will be retried.
func WithNotify(fn func(attempt int, err error)) Option {
	return func(r *Retrier) {
		r.notify = fn
	}
}

// New creates a Retrier allowing at most attempts calls (minimum 1). on decides which errors
// are worth another attempt; everything else is returned immediately.
func New(attempts int, on func(error) bool, opts ...Option) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	r := &Retrier{
		attempts:   attempts,
		on:         on,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// On is a predicate matching any of targets via errors.Is.
func On(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, the context ends, or the
// attempt budget is spent. The last case returns an *ExhaustedError.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if r.on == nil || !r.on(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.attempts-1)), ctx)
	notify := func(err error, _ time.Duration) {
		if r.notify != nil {
			r.notify(attempt, err)
		}
	}

	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		return nil
	}
	if r.on != nil && r.on(err) && attempt >= r.attempts {
		return &ExhaustedError{Attempts: attempt, Err: err}
	}
	return err
}

// Attempts returns the configured attempt budget.
func (r *Retrier) Attempts() int {
	return r.attempts
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}
