// Package sync reconciles the local store with the server. A pass pulls the
// authoritative list, then drains the outbox one operation at a time.
// Retryable failures get per-operation backoff timers that run outside
// passes; per-entity order is preserved throughout.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/rem/internal/db"
	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/metrics"
	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/retry"
	"github.com/marcus/rem/internal/syncclient"
)

// Orchestrator runs sync passes and owns the outbox retry timers.
type Orchestrator struct {
	store    Store
	remote   Remote
	policy   retry.Policy
	interval time.Duration
	metrics  *metrics.Sync

	events   *events.Bus[events.Event]
	status   *events.Bus[Status]
	outcomes *events.Bus[Outcome]

	state   atomic.Int32
	running atomic.Bool
	online  atomic.Bool
	halted  atomic.Bool
	closed  atomic.Bool

	// pullMu keeps timer-driven pushes out of a pull's snapshot window.
	pullMu sync.RWMutex

	mu       sync.Mutex
	timers   map[string]*retryTimer // by op id
	inflight map[string]bool
	lastErr  string
	started  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	kick   chan struct{}
}

// New creates an orchestrator. It starts online; call SetOnline or
// RegisterBackgroundSync to follow real connectivity.
func New(store Store, remote Remote, cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		remote:   remote,
		policy:   retry.OutboxPolicy(),
		interval: cfg.Interval,
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		status:   events.NewBus[Status](),
		outcomes: events.NewBus[Outcome](),
		timers:   make(map[string]*retryTimer),
		inflight: make(map[string]bool),
		kick:     make(chan struct{}, 1),
	}
	if cfg.Retry != nil {
		o.policy = *cfg.Retry
	}
	if o.interval == 0 {
		o.interval = DefaultInterval
	}
	if o.events == nil {
		o.events = events.NewBus[events.Event]()
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.online.Store(true)
	if v, err := store.GetSetting(db.SettingAuthHalted); err == nil && v == "true" {
		o.halted.Store(true)
	}
	if v, err := store.GetSetting(db.SettingLastError); err == nil {
		o.lastErr = v
	}
	return o
}

// Events returns the lifecycle event bus.
func (o *Orchestrator) Events() *events.Bus[events.Event] { return o.events }

// SubscribeStatus registers fn for status updates.
func (o *Orchestrator) SubscribeStatus(fn func(Status)) (cancel func()) {
	return o.status.Subscribe(fn)
}

// SubscribeOutcomes registers fn for per-operation outcomes.
func (o *Orchestrator) SubscribeOutcomes(fn func(Outcome)) (cancel func()) {
	return o.outcomes.Subscribe(fn)
}

// Online reports the current connectivity flag.
func (o *Orchestrator) Online() bool { return o.online.Load() }

// State returns the current pass state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// SyncNow runs a full pass (pull then push) on the caller's goroutine. It is
// a no-op returning nil if a pass is already running.
func (o *Orchestrator) SyncNow(ctx context.Context) error {
	return o.runPass(ctx, true)
}

// PullOnly runs a pass without draining the outbox. Used at startup.
func (o *Orchestrator) PullOnly(ctx context.Context) error {
	return o.runPass(ctx, false)
}

func (o *Orchestrator) runPass(ctx context.Context, push bool) error {
	switch {
	case o.closed.Load():
		return ErrClosed
	case o.halted.Load():
		return ErrAuthHalted
	case !o.online.Load():
		return ErrOffline
	}
	if !o.running.CompareAndSwap(false, true) {
		slog.Debug("sync: pass already running")
		return nil
	}
	start := time.Now()

	o.setState(StatePulling)
	err := o.pull(ctx)
	if err == nil && push {
		o.setState(StatePushing)
		err = o.drain(ctx)
	}

	result := "ok"
	if err != nil {
		result = "push_error"
		if o.State() == StatePulling {
			result = "pull_error"
		}
		if errors.Is(err, syncclient.ErrAuthExpired) {
			result = "auth_expired"
			o.haltAuth(err)
		}
		slog.Warn("sync: pass failed", "stage", o.State().String(), "err", err)
		o.setLastError(err.Error())
	} else {
		if serr := o.store.SetSetting(db.SettingLastSyncTime, time.Now().UTC().Format(time.RFC3339Nano)); serr != nil {
			slog.Warn("sync: record last sync time", "err", serr)
		}
		o.setLastError("")
		o.setState(StateDone)
	}
	o.metrics.ObservePass(result, time.Since(start))

	o.running.Store(false)
	o.setState(StateIdle)
	return err
}

// pull writes the server list into the store. SYNCED rows are replaced (or
// removed when the server no longer has them); rows with local changes go
// through conflict detection instead.
func (o *Orchestrator) pull(ctx context.Context) error {
	o.pullMu.Lock()
	defer o.pullMu.Unlock()

	remote, err := o.remote.FetchReminders(ctx)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	local, err := o.store.ListAll()
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	locals := make(map[int64]models.Reminder, len(local))
	byServer := make(map[int64]models.Reminder, len(local))
	for _, r := range local {
		if r.ID != 0 {
			locals[r.ID] = r
			byServer[r.ID] = r
		}
	}

	keep := make(map[int64]bool, len(remote))
	var writes []models.Reminder
	for _, rr := range remote {
		keep[rr.ID] = true
		delete(byServer, rr.ID)
		l, ok := locals[rr.ID]
		switch {
		case !ok:
			writes = append(writes, models.FromRemote(rr, uuid.NewString()))
		case l.SyncStatus == models.StatusSynced:
			writes = append(writes, models.FromRemote(rr, l.LocalID))
		default:
			if err := o.detectConflict(l, &rr); err != nil {
				return fmt.Errorf("pull: %w", err)
			}
		}
	}
	// byServer now holds local rows the server no longer lists.
	for _, l := range byServer {
		if l.SyncStatus == models.StatusSynced || l.IsDeleted() {
			continue
		}
		if err := o.detectConflict(l, nil); err != nil {
			return fmt.Errorf("pull: %w", err)
		}
	}

	written, err := o.store.PutAll(writes)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	removed, err := o.store.PruneSynced(keep)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	slog.Debug("sync: pulled", "remote", len(remote), "written", written, "removed", len(removed))
	return nil
}

// drain pushes the outbox in enqueue order. An entity whose head operation
// is failed, waiting on a retry timer, in flight or in CONFLICT blocks its
// later operations for the rest of the pass; other entities proceed.
func (o *Orchestrator) drain(ctx context.Context) error {
	ops, err := o.store.ListOperations()
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	blocked := make(map[string]bool)
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.halted.Load() {
			return syncclient.ErrAuthExpired
		}
		if blocked[op.LocalID] {
			continue
		}
		if op.Failed || o.hasTimer(op.ID) {
			blocked[op.LocalID] = true
			continue
		}
		ent, err := o.store.Get(op.LocalID)
		if errors.Is(err, db.ErrNotFound) {
			// Orphaned by a concurrent removal.
			if err := o.store.Dequeue(op.ID); err != nil {
				return fmt.Errorf("push: %w", err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}
		if ent.SyncStatus == models.StatusConflict {
			blocked[op.LocalID] = true
			continue
		}

		if err := o.process(ctx, op.ID); err != nil {
			blocked[op.LocalID] = true
			if errors.Is(err, syncclient.ErrAuthExpired) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	return nil
}

// process pushes one operation and records the result. It re-reads the op
// so bookkeeping done since the caller listed it (rebasing, retries) is
// seen. A nil return means the op was confirmed or is gone.
func (o *Orchestrator) process(ctx context.Context, opID string) error {
	if !o.begin(opID) {
		return errBusy
	}
	defer o.end(opID)

	cur, err := o.store.GetOperation(opID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	op := *cur
	if op.Failed {
		return errors.New(op.LastError)
	}

	remote, err := o.push(ctx, op)
	if err != nil {
		return o.handleFailure(ctx, op, err)
	}

	ent, err := o.store.AckOperation(op, remote)
	if err != nil {
		o.fail(op, err)
		return err
	}
	if ent == nil && op.Type == models.OpCreate && remote != nil {
		// Deleted locally while the create was in flight.
		if derr := o.remote.DeleteReminder(ctx, remote.ID, ""); derr != nil {
			slog.Warn("sync: remove orphaned server copy", "id", remote.ID, "err", derr)
		}
	}
	o.clearTimer(op.ID)
	o.metrics.ObserveOp(string(op.Type), "ok")
	if op.RetryCount > 0 {
		o.publish(events.Event{Kind: events.RetrySuccess, OpID: op.ID, LocalID: op.LocalID, Attempt: op.RetryCount})
	}
	slog.Debug("sync: pushed", "op", op.ID, "type", op.Type, "local_id", op.LocalID)
	o.outcomes.Publish(Outcome{Kind: OutcomeSucceeded, Op: op, Entity: ent})
	return nil
}

// push sends op to the server.
func (o *Orchestrator) push(ctx context.Context, op models.Operation) (*models.RemoteReminder, error) {
	patch, err := op.Patch()
	if err != nil {
		return nil, err
	}
	serverID := op.TargetID
	if serverID == 0 && op.Type != models.OpCreate {
		ent, err := o.store.Get(op.LocalID)
		if err != nil {
			return nil, err
		}
		serverID = ent.ID
	}

	switch op.Type {
	case models.OpCreate:
		return o.remote.CreateReminder(ctx, patch)
	case models.OpUpdate:
		if serverID == 0 {
			return nil, errNotCreated
		}
		return o.remote.UpdateReminder(ctx, serverID, patch, op.BaseVersion)
	case models.OpDelete:
		if serverID == 0 {
			// Never reached the server: nothing to delete remotely.
			return nil, nil
		}
		return nil, o.remote.DeleteReminder(ctx, serverID, op.BaseVersion)
	}
	return nil, fmt.Errorf("unknown operation type %q", op.Type)
}

// handleFailure classifies a push error and updates the op accordingly.
func (o *Orchestrator) handleFailure(ctx context.Context, op models.Operation, err error) error {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		// Pass cancelled: leave the op untouched for the next one.
		return err

	case errors.Is(err, syncclient.ErrAuthExpired):
		o.haltAuth(err)
		return err

	case syncclient.IsConflict(err),
		op.Type == models.OpUpdate && errors.Is(err, syncclient.ErrNotFound):
		o.metrics.ObserveOp(string(op.Type), "conflict")
		if cerr := o.recordPushConflict(ctx, op); cerr != nil {
			slog.Warn("sync: record conflict", "local_id", op.LocalID, "err", cerr)
		}
		o.outcomes.Publish(Outcome{Kind: OutcomeConflict, Op: op, Err: err})
		return err

	case syncclient.IsTransient(err):
		if op.RetryCount >= o.policy.MaxRetries {
			o.publish(events.Event{Kind: events.RetryFailed, OpID: op.ID, LocalID: op.LocalID, Attempt: op.RetryCount, Err: err})
			o.fail(op, fmt.Errorf("giving up after %d retries: %w", op.RetryCount, err))
			return err
		}
		op.RetryCount++
		op.LastError = err.Error()
		if uerr := o.store.UpdateOperation(&op); uerr != nil {
			o.fail(op, uerr)
			return uerr
		}
		delay := o.policy.Delay(op.RetryCount)
		o.schedule(op, delay)
		o.metrics.ObserveOp(string(op.Type), "retry")
		o.metrics.RetryScheduled()
		o.publish(events.Event{Kind: events.RetryScheduled, OpID: op.ID, LocalID: op.LocalID,
			Attempt: op.RetryCount, Delay: delay, Err: err})
		slog.Debug("sync: retry scheduled", "op", op.ID, "retry", op.RetryCount, "delay", delay, "err", err)
		return err

	default:
		o.fail(op, err)
		return err
	}
}

// fail marks op terminally failed and reports it.
func (o *Orchestrator) fail(op models.Operation, err error) {
	o.clearTimer(op.ID)
	if merr := o.store.MarkOperationFailed(op.ID, err.Error()); merr != nil && !errors.Is(merr, db.ErrNotFound) {
		slog.Error("sync: mark operation failed", "op", op.ID, "err", merr)
	}
	op.Failed = true
	op.LastError = err.Error()
	o.metrics.ObserveOp(string(op.Type), "failed")
	slog.Warn("sync: operation failed", "op", op.ID, "type", op.Type, "local_id", op.LocalID, "err", err)
	o.outcomes.Publish(Outcome{Kind: OutcomeFailed, Op: op, Err: err})
}

func (o *Orchestrator) begin(opID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[opID] {
		return false
	}
	o.inflight[opID] = true
	return true
}

func (o *Orchestrator) end(opID string) {
	o.mu.Lock()
	delete(o.inflight, opID)
	o.mu.Unlock()
}

// Status returns a snapshot of the current sync status.
func (o *Orchestrator) Status() Status {
	s := Status{
		State:       o.State(),
		Online:      o.online.Load(),
		Syncing:     o.running.Load(),
		AuthExpired: o.halted.Load(),
	}
	s.PendingCount, _ = o.store.CountPending()
	s.FailedCount, _ = o.store.CountFailed()
	if cs, err := o.store.ListConflicts(); err == nil {
		s.ConflictCount = len(cs)
	}
	if v, _ := o.store.GetSetting(db.SettingLastSyncTime); v != "" {
		s.LastSyncTime, _ = time.Parse(time.RFC3339Nano, v)
	}
	o.mu.Lock()
	s.LastError = o.lastErr
	o.mu.Unlock()
	o.metrics.SetQueue(s.PendingCount, s.FailedCount)
	return s
}

func (o *Orchestrator) emit() {
	if o.status.Len() == 0 {
		return
	}
	o.status.Publish(o.Status())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.emit()
}

func (o *Orchestrator) setLastError(msg string) {
	o.mu.Lock()
	changed := o.lastErr != msg
	o.lastErr = msg
	o.mu.Unlock()
	if changed {
		if err := o.store.SetSetting(db.SettingLastError, msg); err != nil {
			slog.Debug("sync: persist last error", "err", err)
		}
	}
}

func (o *Orchestrator) publish(e events.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	o.events.Publish(e)
}

// haltAuth stops all sync until ResumeAuth.
func (o *Orchestrator) haltAuth(cause error) {
	if !o.halted.CompareAndSwap(false, true) {
		return
	}
	slog.Warn("sync: halted, credentials expired", "err", cause)
	if err := o.store.SetSetting(db.SettingAuthHalted, "true"); err != nil {
		slog.Warn("sync: persist auth halt", "err", err)
	}
	o.setLastError(cause.Error())
	o.emit()
}

// ResumeAuth lifts an auth halt after a successful login and asks for a pass.
func (o *Orchestrator) ResumeAuth() {
	o.halted.Store(false)
	if err := o.store.SetSetting(db.SettingAuthHalted, "false"); err != nil {
		slog.Warn("sync: persist auth resume", "err", err)
	}
	o.setLastError("")
	o.emit()
	o.RequestSync()
}

// Close stops the background loop and every retry timer and waits for
// in-progress work to finish. Ops keep their retry counts in the store.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed.Load() {
		o.mu.Unlock()
		return nil
	}
	o.closed.Store(true)
	for id, rt := range o.timers {
		rt.t.Stop()
		delete(o.timers, id)
	}
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
	return nil
}
