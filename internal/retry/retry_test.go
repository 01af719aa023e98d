package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := Policy{BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d): got %v, want %v", i+1, got, w)
		}
	}
	if got := p.Backoff(500); got != 60*time.Second {
		t.Fatalf("Backoff(500): got %v", got)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Jitter: time.Second}
	for i := 0; i < 200; i++ {
		d := p.Delay(2)
		if d < 2*time.Second || d >= 3*time.Second {
			t.Fatalf("Delay(2) = %v, want [2s, 3s)", d)
		}
	}
}

func TestDefaults(t *testing.T) {
	tp := TransportPolicy()
	if tp.BaseDelay != time.Second || tp.MaxDelay != 10*time.Second || tp.MaxRetries != 3 {
		t.Fatalf("transport policy: %+v", tp)
	}
	op := OutboxPolicy()
	if op.BaseDelay != 2*time.Second || op.MaxDelay != time.Minute || op.MaxRetries != 5 {
		t.Fatalf("outbox policy: %+v", op)
	}
}

var errTransient = errors.New("transient")

func TestDoRetriesUntilCap(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxRetries: 3}
	calls := 0
	var notified []int
	err := Do(context.Background(), p,
		func(err error) bool { return errors.Is(err, errTransient) },
		func(n int, _ time.Duration, _ error) { notified = append(notified, n) },
		func(ctx context.Context, attempt int) error {
			calls++
			return errTransient
		})
	if !errors.Is(err, errTransient) {
		t.Fatalf("Do: got %v", err)
	}
	if calls != 4 {
		t.Fatalf("calls: got %d, want 4 (1 + 3 retries)", calls)
	}
	if len(notified) != 3 || notified[0] != 1 || notified[2] != 3 {
		t.Fatalf("onRetry calls: %v", notified)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	perm := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), Policy{BaseDelay: time.Millisecond, MaxRetries: 5},
		func(err error) bool { return errors.Is(err, errTransient) }, nil,
		func(ctx context.Context, attempt int) error {
			calls++
			return perm
		})
	if !errors.Is(err, perm) || calls != 1 {
		t.Fatalf("got err=%v calls=%d", err, calls)
	}
}

func TestDoSucceedsAfterRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{BaseDelay: time.Millisecond, MaxRetries: 3},
		func(error) bool { return true }, nil,
		func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 2 {
				return errTransient
			}
			return nil
		})
	if err != nil || calls != 3 {
		t.Fatalf("got err=%v calls=%d", err, calls)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	err := Do(ctx, Policy{BaseDelay: time.Hour, MaxRetries: 3},
		func(error) bool { return true },
		func(int, time.Duration, error) { cancel() },
		func(ctx context.Context, attempt int) error { return errTransient })
	if !errors.Is(err, errTransient) {
		t.Fatalf("got %v, want the last attempt error", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("Do waited through a cancelled context")
	}
}
