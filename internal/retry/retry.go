// Package retry is the single retry policy applied to every external adapter
// call: a hard timeout per attempt, and at most one retry with a constant
// backoff. Adapters never implement their own retry loops.
package retry

import (
	"context"
	"time"

	"call-server/internal/callerrors"

	"github.com/sethvargo/go-retry"
)

// Policy bounds adapter calls. Zero values fall back to Default().
type Policy struct {
	Timeout  time.Duration // per-attempt deadline
	Backoff  time.Duration // wait before the single retry
	Attempts uint64        // total attempts (1 initial + retries)
}

// Default returns the policy used when an adapter does not override it.
func Default() Policy {
	return Policy{
		Timeout:  3 * time.Second,
		Backoff:  250 * time.Millisecond,
		Attempts: 2,
	}
}

// WithTimeout returns a copy of the policy with a different per-attempt deadline.
func (p Policy) WithTimeout(d time.Duration) Policy {
	p.Timeout = d
	return p
}

// WithBackoff returns a copy of the policy with a different pre-retry wait.
func (p Policy) WithBackoff(d time.Duration) Policy {
	p.Backoff = d
	return p
}

// NoRetry returns a copy of the policy that allows a single attempt only.
func (p Policy) NoRetry() Policy {
	p.Attempts = 1
	return p
}

// Do runs fn under the policy, naming the adapter for error classification.
// Transient failures are retried once; the returned error is an
// *callerrors.AdapterError on exhaustion. Cancellation of ctx stops retrying
// immediately.
func Do(ctx context.Context, adapter string, p Policy, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		p.Timeout = Default().Timeout
	}
	if p.Backoff <= 0 {
		p.Backoff = Default().Backoff
	}
	if p.Attempts == 0 {
		p.Attempts = Default().Attempts
	}

	backoff := retry.WithMaxRetries(p.Attempts-1, retry.NewConstant(p.Backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		if err := fn(attemptCtx); err != nil {
			// The call's own cancellation is not retryable.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return callerrors.WrapAdapter(adapter, err)
	}
	return nil
}
