// Package retry computes capped exponential backoff with jitter and runs
// context-aware retry loops. The transport client and the outbox retry
// scheduler share it with different policies.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy configures backoff. Delay for retry n (1-based) is
// min(BaseDelay * 2^(n-1), MaxDelay) plus a uniform jitter in [0, Jitter).
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
	Jitter     time.Duration
}

// TransportPolicy is the default for remote calls: 1s base, 10s cap, 3 retries.
func TransportPolicy() Policy {
	return Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxRetries: 3, Jitter: time.Second}
}

// OutboxPolicy is the default for queued operations: 2s base, 60s cap, 5 retries.
func OutboxPolicy() Policy {
	return Policy{BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, MaxRetries: 5, Jitter: time.Second}
}

// Backoff returns the delay before retry n without jitter.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Delay returns the delay before retry n including jitter.
func (p Policy) Delay(n int) time.Duration {
	d := p.Backoff(n)
	if p.Jitter > 0 {
		d += rand.N(p.Jitter)
	}
	return d
}

// Sleep waits for d or until ctx is done.
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

// Func is one attempt. attempt is 0 for the first call.
type Func func(ctx context.Context, attempt int) error

// Do runs fn until it succeeds, returns an error shouldRetry rejects, the
// retries are exhausted or ctx is done. onRetry, if set, is called before
// each wait with the retry number and delay. The last error is returned.
func Do(ctx context.Context, p Policy, shouldRetry func(error) bool, onRetry func(n int, delay time.Duration, err error), fn Func) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !shouldRetry(err) || attempt >= p.MaxRetries || ctx.Err() != nil {
			return err
		}
		n := attempt + 1
		delay := p.Delay(n)
		if onRetry != nil {
			onRetry(n, delay, err)
		}
		if serr := Sleep(ctx, delay); serr != nil {
			return err
		}
	}
}
