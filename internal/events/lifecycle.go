package events

import (
	"fmt"
	"time"
)

// Kind names a lifecycle event.
type Kind string

// Lifecycle event kinds. The sync:* kinds come from the outbox scheduler,
// the api:* and auth:* kinds from the transport client.
const (
	RetryScheduled   Kind = "sync:retry-scheduled"
	RetryAttempt     Kind = "sync:retry-attempt"
	RetrySuccess     Kind = "sync:retry-success"
	RetryFailed      Kind = "sync:retry-failed"
	APIRetryAttempt  Kind = "api:retry-attempt"
	APIMaxRetries    Kind = "api:max-retries-exceeded"
	AuthExpired      Kind = "auth:expired"
	AuthRefreshed    Kind = "auth:refreshed"
	ConflictDetected Kind = "sync:conflict"
	ConflictResolved Kind = "sync:conflict-resolved"
)

// Event is a side-channel notification. Fields not relevant to Kind are zero.
type Event struct {
	Kind    Kind
	Time    time.Time
	OpID    string
	LocalID string
	Attempt int
	Delay   time.Duration
	Method  string
	Path    string
	Err     error
}

// New returns an event of kind k stamped with the current time.
func New(k Kind) Event {
	return Event{Kind: k, Time: time.Now()}
}

// Message renders a short human-readable description.
func (e Event) Message() string {
	var s string
	switch e.Kind {
	case RetryScheduled:
		s = fmt.Sprintf("retry %d scheduled in %s", e.Attempt, e.Delay.Round(time.Millisecond))
	case RetryAttempt:
		s = fmt.Sprintf("retrying operation (attempt %d)", e.Attempt)
	case RetrySuccess:
		s = "operation succeeded after retry"
	case RetryFailed:
		s = "operation failed permanently"
	case APIRetryAttempt:
		s = fmt.Sprintf("%s %s retry %d in %s", e.Method, e.Path, e.Attempt, e.Delay.Round(time.Millisecond))
	case APIMaxRetries:
		s = fmt.Sprintf("%s %s gave up after %d retries", e.Method, e.Path, e.Attempt)
	case AuthExpired:
		s = "session expired, log in again"
	case AuthRefreshed:
		s = "session refreshed"
	case ConflictDetected:
		s = "conflict detected"
	case ConflictResolved:
		s = "conflict resolved"
	default:
		s = string(e.Kind)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
