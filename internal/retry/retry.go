package retry

import (
	"context"
	"time"
)

// Policy describes how many times an operation is tried and how long to wait between tries.
// MaxAttempts of zero means retry until success or context cancellation.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Unbounded returns a policy that retries forever with a fixed backoff.
func Unbounded(backoff time.Duration) Policy {
	return Policy{Backoff: backoff}
}

// Attempts returns a policy that tries at most n times.
func Attempts(n int, backoff time.Duration) Policy {
	if n < 1 {
		n = 1
	}
	return Policy{MaxAttempts: n, Backoff: backoff}
}

// IsUnbounded reports whether the policy never gives up on its own.
func (p Policy) IsUnbounded() bool {
	return p.MaxAttempts <= 0
}

// Do runs fn until it succeeds, the policy is exhausted, or ctx is done.
// attempt is 1-based. onRetry, if non-nil, is called after each failure that will be retried.
// The error of the last attempt is returned when the policy is exhausted; ctx.Err() when cancelled.
func Do(ctx context.Context, p Policy, fn func(attempt int) error, onRetry func(attempt int, err error)) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if !p.IsUnbounded() && attempt >= p.MaxAttempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if serr := Sleep(ctx, p.Backoff); serr != nil {
			return serr
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
