// Package retry runs an operation a bounded number of times with capped
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

const (
	// DefaultMaxAttempts is the number of tries made per operation.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the wait after the first failure.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps the wait between attempts.
	DefaultMaxDelay = 4 * time.Second
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns 3 attempts with 1s, 2s backoff capped at 4s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Backoff returns the delay to wait after the given failed attempt, counted
// from 1.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retrier executes operations under a Policy using clk for waits.
type Retrier struct {
	policy Policy
	clock  clock.Clock
}

// New creates a Retrier. A nil clock selects the wall clock.
func New(policy Policy, clk clock.Clock) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Retrier{
		policy: policy,
		clock:  clk,
	}
}

// Policy returns the policy in use.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do calls fn until it succeeds, returns a Permanent error, the attempts
// are used up or ctx is done. The attempt number passed to fn starts at 1.
// The returned error is the last error from fn, unwrapped from Permanent.
func (r *Retrier) Do(ctx context.Context,
	fn func(ctx context.Context, attempt int) error) error {

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.policy.Backoff(attempt)
		log.Debugf("Attempt %d/%d failed: %v, retrying in %v",
			attempt, r.policy.MaxAttempts, err, delay)

		select {
		case <-r.clock.TickAfter(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted after attempt %d: %w",
				attempt, ctx.Err())
		}
	}

	return lastErr
}
