package sync

import (
	"context"
	"errors"
	"time"

	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/metrics"
	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/retry"
)

// DefaultInterval is the periodic push interval while pending work exists.
const DefaultInterval = 5 * time.Minute

// State is the orchestrator's pass state.
type State int32

const (
	StateIdle State = iota
	StatePulling
	StatePushing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePulling:
		return "PULLING"
	case StatePushing:
		return "PUSHING"
	case StateDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// Status is published on every state transition.
type Status struct {
	State         State     `json:"state"`
	Online        bool      `json:"online"`
	Syncing       bool      `json:"syncing"`
	PendingCount  int       `json:"pendingCount"`
	FailedCount   int       `json:"failedCount"`
	ConflictCount int       `json:"conflictCount"`
	LastError     string    `json:"lastError,omitempty"`
	LastSyncTime  time.Time `json:"lastSyncTime,omitempty"`
	AuthExpired   bool      `json:"authExpired"`
}

// OutcomeKind classifies how an operation left the outbox (or stopped
// moving through it).
type OutcomeKind int

const (
	OutcomeSucceeded OutcomeKind = iota // confirmed by the server
	OutcomeFailed                       // retries exhausted or rejected
	OutcomeConflict                     // entity moved to CONFLICT
	OutcomeDropped                      // superseded, discarded or resolved away
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeConflict:
		return "conflict"
	case OutcomeDropped:
		return "dropped"
	}
	return "unknown"
}

// Outcome reports the fate of one operation to the mutation coordinator.
type Outcome struct {
	Kind   OutcomeKind
	Op     models.Operation
	Entity *models.Reminder // row after success, nil when removed
	Err    error
}

var (
	ErrOffline    = errors.New("offline")
	ErrAuthHalted = errors.New("sync halted until login")
	ErrClosed     = errors.New("orchestrator closed")
	ErrNoConflict = errors.New("reminder is not in conflict")
	ErrDiscarded  = errors.New("operation discarded")
	ErrSuperseded = errors.New("operation superseded")
	errNotCreated = errors.New("reminder has no server id")
	errBusy       = errors.New("operation in flight")
)

// Store is the subset of the local store the orchestrator drives.
type Store interface {
	Get(localID string) (*models.Reminder, error)
	Put(r *models.Reminder) error
	ListAll() ([]models.Reminder, error)
	PutAll(rows []models.Reminder) (int, error)
	PruneSynced(keep map[int64]bool) ([]string, error)
	Remove(localID string) error

	ListOperations() ([]models.Operation, error)
	ListOperationsForEntity(localID string) ([]models.Operation, error)
	GetOperation(opID string) (*models.Operation, error)
	UpdateOperation(op *models.Operation) error
	MarkOperationFailed(opID, lastError string) error
	ResetOperation(opID string) error
	Dequeue(opID string) error
	AckOperation(op models.Operation, remote *models.RemoteReminder) (*models.Reminder, error)
	CountPending() (int, error)
	CountFailed() (int, error)
	ClearOutbox() (int64, error)

	RecordConflict(c models.Conflict) error
	GetConflict(localID string) (*models.Conflict, error)
	ListConflicts() ([]models.Conflict, error)
	AdoptServer(localID string, server *models.RemoteReminder) ([]string, error)
	RebaseLocal(localID string, server *models.RemoteReminder, op *models.Operation) ([]string, error)

	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// Remote is the server API the orchestrator pulls from and pushes to.
type Remote interface {
	FetchReminders(ctx context.Context) ([]models.RemoteReminder, error)
	GetReminder(ctx context.Context, id int64) (*models.RemoteReminder, error)
	CreateReminder(ctx context.Context, p models.ReminderPatch) (*models.RemoteReminder, error)
	UpdateReminder(ctx context.Context, id int64, p models.ReminderPatch, baseVersion string) (*models.RemoteReminder, error)
	DeleteReminder(ctx context.Context, id int64, baseVersion string) error
}

// ConnectivitySource reports online/offline transitions.
type ConnectivitySource interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

// Config tunes an Orchestrator. Zero values take defaults.
type Config struct {
	Retry    *retry.Policy // per-operation retry policy, default retry.OutboxPolicy
	Interval time.Duration // periodic pass interval, default DefaultInterval, negative disables
	Metrics  *metrics.Sync
	Events   *events.Bus[events.Event]
}
