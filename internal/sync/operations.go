package sync

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/marcus/rem/internal/db"
	"github.com/marcus/rem/internal/models"
)

// PendingOperations lists the outbox in enqueue order, failed ops included.
func (o *Orchestrator) PendingOperations() ([]models.Operation, error) {
	return o.store.ListOperations()
}

// findOperation resolves a full op id or a unique prefix of one.
func (o *Orchestrator) findOperation(ref string) (*models.Operation, error) {
	if op, err := o.store.GetOperation(ref); err == nil {
		return op, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	ops, err := o.store.ListOperations()
	if err != nil {
		return nil, err
	}
	var match *models.Operation
	for i := range ops {
		if len(ref) >= 4 && len(ops[i].ID) >= len(ref) && ops[i].ID[:len(ref)] == ref {
			if match != nil {
				return nil, fmt.Errorf("operation %q is ambiguous", ref)
			}
			match = &ops[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("operation %q: %w", ref, db.ErrNotFound)
	}
	return match, nil
}

// RetryOperation clears an operation's failure and retry count and asks for
// a pass. ref may be a unique id prefix.
func (o *Orchestrator) RetryOperation(ref string) (*models.Operation, error) {
	op, err := o.findOperation(ref)
	if err != nil {
		return nil, err
	}
	if err := o.store.ResetOperation(op.ID); err != nil {
		return nil, err
	}
	o.clearTimer(op.ID)
	op.Failed = false
	op.RetryCount = 0
	op.LastError = ""
	slog.Info("sync: operation reset", "op", op.ID)
	o.emit()
	o.RequestSync()
	return op, nil
}

// DiscardOperation abandons an operation. Discarding a CREATE removes the
// local-only entity with every operation queued for it. Otherwise the op is
// dropped and, once nothing else is queued, the entity is marked SYNCED so
// the next pull restores the server copy.
func (o *Orchestrator) DiscardOperation(ref string) (*models.Operation, error) {
	op, err := o.findOperation(ref)
	if err != nil {
		return nil, err
	}
	ops, err := o.store.ListOperationsForEntity(op.LocalID)
	if err != nil {
		return nil, err
	}

	if op.Type == models.OpCreate {
		o.cancelTimers(op.LocalID)
		if err := o.store.Remove(op.LocalID); err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		for _, eop := range ops {
			o.outcomes.Publish(Outcome{Kind: OutcomeDropped, Op: eop, Err: ErrDiscarded})
		}
		o.emit()
		return op, nil
	}

	o.clearTimer(op.ID)
	if err := o.store.Dequeue(op.ID); err != nil {
		return nil, err
	}
	if len(ops) == 1 {
		if err := o.restoreSynced(op.LocalID); err != nil {
			return nil, err
		}
	}
	o.outcomes.Publish(Outcome{Kind: OutcomeDropped, Op: *op, Err: ErrDiscarded})
	o.emit()
	return op, nil
}

// restoreSynced hands a row with no queued work back to the pull. Rows in
// CONFLICT keep their status until resolved.
func (o *Orchestrator) restoreSynced(localID string) error {
	ent, err := o.store.Get(localID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ent.SyncStatus == models.StatusConflict {
		return nil
	}
	if ent.ID == 0 {
		return o.store.Remove(localID)
	}
	ent.DeletedAt = nil
	ent.SyncStatus = models.StatusSynced
	return o.store.Put(ent)
}

// ClearOutbox drops every queued operation and lastSyncTime. Local-only
// entities are removed; others are handed back to the next pull.
func (o *Orchestrator) ClearOutbox() (int64, error) {
	ops, err := o.store.ListOperations()
	if err != nil {
		return 0, err
	}
	o.mu.Lock()
	for id, rt := range o.timers {
		rt.t.Stop()
		delete(o.timers, id)
	}
	o.mu.Unlock()

	n, err := o.store.ClearOutbox()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	for _, op := range ops {
		if seen[op.LocalID] {
			continue
		}
		seen[op.LocalID] = true
		if err := o.restoreSynced(op.LocalID); err != nil {
			return n, err
		}
	}
	if err := o.store.SetSetting(db.SettingLastSyncTime, ""); err != nil {
		return n, err
	}
	for _, op := range ops {
		o.outcomes.Publish(Outcome{Kind: OutcomeDropped, Op: op, Err: ErrDiscarded})
	}
	slog.Info("sync: outbox cleared", "operations", n)
	o.emit()
	return n, nil
}
