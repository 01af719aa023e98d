package sync

import (
	"errors"
	"log/slog"
	"time"

	"github.com/marcus/rem/internal/db"
	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/models"
)

// retryTimer is a pending backoff for one operation.
type retryTimer struct {
	t       *time.Timer
	localID string
	due     time.Time
}

// schedule arms a retry for op after delay, replacing any existing timer.
func (o *Orchestrator) schedule(op models.Operation, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return
	}
	if old := o.timers[op.ID]; old != nil {
		old.t.Stop()
	}
	rt := &retryTimer{localID: op.LocalID, due: time.Now().Add(delay)}
	rt.t = time.AfterFunc(delay, func() { o.fire(op.ID, rt) })
	o.timers[op.ID] = rt
}

// fire runs when a retry timer elapses. The op is retried only if it is
// still the head of its entity's queue and the entity is not in conflict;
// otherwise it waits for the next pass.
func (o *Orchestrator) fire(opID string, rt *retryTimer) {
	o.mu.Lock()
	if o.timers[opID] != rt {
		o.mu.Unlock()
		return
	}
	delete(o.timers, opID)
	if o.closed.Load() {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()
	defer o.wg.Done()

	if o.halted.Load() || !o.online.Load() {
		return
	}
	op, err := o.store.GetOperation(opID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			slog.Warn("sync: load retried operation", "op", opID, "err", err)
		}
		return
	}
	if op.Failed || !o.isHead(*op) {
		return
	}

	o.publish(events.Event{Kind: events.RetryAttempt, OpID: op.ID, LocalID: op.LocalID, Attempt: op.RetryCount})
	o.pullMu.RLock()
	err = o.process(o.ctx, op.ID)
	o.pullMu.RUnlock()
	if err == nil {
		// Later operations for the entity were waiting on this one.
		o.RequestSync()
	}
	o.emit()
}

// isHead reports whether op is first in its entity's queue and the entity
// can be pushed.
func (o *Orchestrator) isHead(op models.Operation) bool {
	ent, err := o.store.Get(op.LocalID)
	if err != nil || ent.SyncStatus == models.StatusConflict {
		return false
	}
	ops, err := o.store.ListOperationsForEntity(op.LocalID)
	if err != nil || len(ops) == 0 {
		return false
	}
	return ops[0].ID == op.ID
}

func (o *Orchestrator) hasTimer(opID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timers[opID] != nil
}

func (o *Orchestrator) clearTimer(opID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if rt := o.timers[opID]; rt != nil {
		rt.t.Stop()
		delete(o.timers, opID)
	}
}

// cancelTimers stops every retry timer for an entity.
func (o *Orchestrator) cancelTimers(localID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, rt := range o.timers {
		if rt.localID == localID {
			rt.t.Stop()
			delete(o.timers, id)
		}
	}
}

// CancelEntity stops pending retries for an entity about to be removed
// locally.
func (o *Orchestrator) CancelEntity(localID string) {
	o.cancelTimers(localID)
}

// ScheduledRetry describes an armed retry timer.
type ScheduledRetry struct {
	OpID    string
	LocalID string
	Due     time.Time
}

// ScheduledRetries lists armed retry timers.
func (o *Orchestrator) ScheduledRetries() []ScheduledRetry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ScheduledRetry, 0, len(o.timers))
	for id, rt := range o.timers {
		out = append(out, ScheduledRetry{OpID: id, LocalID: rt.localID, Due: rt.due})
	}
	return out
}
