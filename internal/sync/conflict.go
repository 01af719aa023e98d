package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marcus/rem/internal/db"
	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/syncclient"
)

// Resolution picks the winning side of a conflict.
type Resolution string

const (
	KeepServer Resolution = "server"
	KeepLocal  Resolution = "local"
)

// ParseResolution accepts "server"/"remote"/"theirs" and "local"/"mine"/"ours".
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "server", "remote", "theirs":
		return KeepServer, nil
	case "local", "mine", "ours":
		return KeepLocal, nil
	}
	return "", fmt.Errorf("unknown resolution %q (want server or local)", s)
}

// conflict reasons
const (
	reasonDiverged      = "server copy changed since local edit"
	reasonServerDeleted = "server copy was deleted"
	reasonRejected      = "server rejected stale write"
)

// detectConflict compares a locally modified row against the server copy seen
// during a pull. server is nil when the server no longer lists the row. The
// base the local edit was made against is the head operation's base version,
// falling back to the row's own.
func (o *Orchestrator) detectConflict(l models.Reminder, server *models.RemoteReminder) error {
	ops, err := o.store.ListOperationsForEntity(l.LocalID)
	if err != nil {
		return err
	}
	base := l.ServerVersion
	if len(ops) > 0 {
		base = ops[0].BaseVersion
	}
	c := models.Conflict{LocalID: l.LocalID, DetectedAt: time.Now().UTC()}
	if server == nil {
		if len(ops) == 0 && l.SyncStatus != models.StatusConflict {
			return nil
		}
		c.Deleted = true
		c.Reason = reasonServerDeleted
	} else {
		if base == "" || base == server.Version() {
			return nil
		}
		c.Server = *server
		c.Reason = reasonDiverged
	}

	if l.SyncStatus == models.StatusConflict {
		prev, err := o.store.GetConflict(l.LocalID)
		if err == nil && prev.Deleted == c.Deleted && prev.Server.Version() == c.Server.Version() {
			return nil
		}
	}
	return o.recordConflict(c)
}

// recordPushConflict snapshots the server copy after the server refused op.
// If the fetch fails the snapshot is left empty and refetched at resolution.
func (o *Orchestrator) recordPushConflict(ctx context.Context, op models.Operation) error {
	c := models.Conflict{LocalID: op.LocalID, Reason: reasonRejected, DetectedAt: time.Now().UTC()}
	id := op.TargetID
	if id == 0 {
		if ent, err := o.store.Get(op.LocalID); err == nil {
			id = ent.ID
		}
	}
	if id != 0 {
		rr, err := o.remote.GetReminder(ctx, id)
		switch {
		case err == nil:
			c.Server = *rr
		case errors.Is(err, syncclient.ErrNotFound):
			c.Deleted = true
			c.Reason = reasonServerDeleted
		default:
			slog.Debug("sync: fetch conflicting copy", "local_id", op.LocalID, "err", err)
		}
	}
	return o.recordConflict(c)
}

func (o *Orchestrator) recordConflict(c models.Conflict) error {
	if err := o.store.RecordConflict(c); err != nil {
		return err
	}
	o.cancelTimers(c.LocalID)
	o.metrics.Conflict()
	slog.Info("sync: conflict", "local_id", c.LocalID, "reason", c.Reason)
	o.publish(events.Event{Kind: events.ConflictDetected, LocalID: c.LocalID})
	o.emit()
	return nil
}

// Conflicts lists entities awaiting resolution.
func (o *Orchestrator) Conflicts() ([]models.Conflict, error) {
	return o.store.ListConflicts()
}

// ResolveConflict settles a CONFLICT entity. KeepServer adopts the server
// copy and drops queued work; KeepLocal rebases the local value onto the
// current server version and queues it for push. It returns the ids of
// operations the resolution dropped.
func (o *Orchestrator) ResolveConflict(ctx context.Context, localID string, res Resolution) ([]string, error) {
	ent, err := o.store.Get(localID)
	if err != nil {
		return nil, err
	}
	if ent.SyncStatus != models.StatusConflict {
		return nil, ErrNoConflict
	}
	c, err := o.store.GetConflict(localID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if c == nil {
		c = &models.Conflict{LocalID: localID}
	}
	if !c.Deleted && c.Server.ID == 0 && ent.ID != 0 {
		rr, err := o.remote.GetReminder(ctx, ent.ID)
		switch {
		case err == nil:
			c.Server = *rr
		case errors.Is(err, syncclient.ErrNotFound):
			c.Deleted = true
		default:
			return nil, fmt.Errorf("fetch server copy: %w", err)
		}
	}
	var server *models.RemoteReminder
	if !c.Deleted && c.Server.ID != 0 {
		server = &c.Server
	}

	before, err := o.store.ListOperationsForEntity(localID)
	if err != nil {
		return nil, err
	}
	o.cancelTimers(localID)

	var dropped []string
	switch res {
	case KeepServer:
		dropped, err = o.store.AdoptServer(localID, server)
	case KeepLocal:
		dropped, err = o.keepLocal(*ent, server)
	default:
		return nil, fmt.Errorf("unknown resolution %q", res)
	}
	if err != nil {
		return nil, err
	}

	o.publishDropped(before, dropped, ErrDiscarded)
	slog.Info("sync: conflict resolved", "local_id", localID, "resolution", string(res))
	o.publish(events.Event{Kind: events.ConflictResolved, LocalID: localID})
	o.emit()
	if res == KeepLocal {
		o.RequestSync()
	}
	return dropped, nil
}

func (o *Orchestrator) keepLocal(ent models.Reminder, server *models.RemoteReminder) ([]string, error) {
	if ent.IsDeleted() {
		if server == nil {
			// Both sides deleted it.
			return o.store.AdoptServer(ent.LocalID, nil)
		}
		op := &models.Operation{Type: models.OpDelete, LocalID: ent.LocalID}
		return o.store.RebaseLocal(ent.LocalID, server, op)
	}
	payload, err := models.NewPayload(models.FullPatch(ent))
	if err != nil {
		return nil, err
	}
	op := &models.Operation{Type: models.OpUpdate, LocalID: ent.LocalID, Payload: payload}
	if server == nil {
		op.Type = models.OpCreate
	}
	return o.store.RebaseLocal(ent.LocalID, server, op)
}

// publishDropped reports each dropped op id that appears in ops.
func (o *Orchestrator) publishDropped(ops []models.Operation, ids []string, cause error) {
	if len(ids) == 0 {
		return
	}
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	for _, op := range ops {
		if gone[op.ID] {
			o.clearTimer(op.ID)
			o.outcomes.Publish(Outcome{Kind: OutcomeDropped, Op: op, Err: cause})
		}
	}
}
