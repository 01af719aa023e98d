// Package optimistic applies reminder mutations to an in-memory view
// immediately, persists them with their outbox operation, and settles the
// view when the sync orchestrator reports each operation's outcome.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/rem/internal/db"
	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/models"
	remsync "github.com/marcus/rem/internal/sync"
)

// ErrConflict resolves the handle of an operation whose entity moved to
// CONFLICT.
var ErrConflict = errors.New("reminder is in conflict")

// Store is the part of the local store the coordinator writes through.
type Store interface {
	Get(localID string) (*models.Reminder, error)
	List() ([]models.Reminder, error)
	SaveMutation(r *models.Reminder, op *models.Operation) error
	SaveDelete(r *models.Reminder, op *models.Operation) ([]string, error)
	Remove(localID string) error
	ListOperationsForEntity(localID string) ([]models.Operation, error)
}

// Syncer is the part of the orchestrator the coordinator drives.
type Syncer interface {
	Online() bool
	RequestSync()
	CancelEntity(localID string)
	SubscribeOutcomes(fn func(remsync.Outcome)) (cancel func())
}

// Mutation is one user edit. LocalID is empty for creates.
type Mutation struct {
	Type    models.OpType
	LocalID string
	Patch   models.ReminderPatch
}

// Coordinator owns the optimistic view.
type Coordinator struct {
	store  Store
	syncer Syncer

	mu      sync.Mutex
	view    []models.Reminder
	pending map[string]*Pending // by op id

	changes     *events.Bus[[]models.Reminder]
	unsubscribe func()
}

// New creates a coordinator and subscribes it to syncer outcomes. Call Load
// to hydrate the view.
func New(store Store, syncer Syncer) *Coordinator {
	c := &Coordinator{
		store:   store,
		syncer:  syncer,
		pending: make(map[string]*Pending),
		changes: events.NewBus[[]models.Reminder](),
	}
	c.unsubscribe = syncer.SubscribeOutcomes(c.onOutcome)
	return c
}

// Close detaches from the syncer. Unsettled handles stay unresolved; their
// operations remain in the outbox.
func (c *Coordinator) Close() {
	c.unsubscribe()
}

// Load replaces the view with the live rows in the store.
func (c *Coordinator) Load() error {
	rows, err := c.store.List()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.view = rows
	slices.SortStableFunc(c.view, compare)
	c.mu.Unlock()
	c.notify()
	return nil
}

// View returns a copy of the current view, newest first.
func (c *Coordinator) View() []models.Reminder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.view)
}

// Get returns the view row for localID.
func (c *Coordinator) Get(localID string) (models.Reminder, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.index(localID)
	if i < 0 {
		return models.Reminder{}, false
	}
	return c.view[i], true
}

// Subscribe registers fn for view changes. fn receives a copy.
func (c *Coordinator) Subscribe(fn func([]models.Reminder)) (cancel func()) {
	return c.changes.Subscribe(fn)
}

// Create queues a new reminder.
func (c *Coordinator) Create(ctx context.Context, p models.ReminderPatch) (*Pending, error) {
	return c.PerformMutation(ctx, Mutation{Type: models.OpCreate, Patch: p})
}

// Update queues a partial update.
func (c *Coordinator) Update(ctx context.Context, localID string, p models.ReminderPatch) (*Pending, error) {
	return c.PerformMutation(ctx, Mutation{Type: models.OpUpdate, LocalID: localID, Patch: p})
}

// Delete queues a delete.
func (c *Coordinator) Delete(ctx context.Context, localID string) (*Pending, error) {
	return c.PerformMutation(ctx, Mutation{Type: models.OpDelete, LocalID: localID})
}

// Toggle flips completion. The current value is read under the same lock as
// the write, so rapid toggles apply in order.
func (c *Coordinator) Toggle(ctx context.Context, localID string) (*Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	cur, err := c.current(localID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	done := !cur.Completed
	p, err := c.performLocked(Mutation{Type: models.OpUpdate, LocalID: localID,
		Patch: models.ReminderPatch{Completed: &done}})
	c.mu.Unlock()
	c.afterMutation(p, err)
	return p, err
}

// PerformMutation applies m to the view, persists it with its operation and
// asks for a sync. The returned handle settles when the operation is
// confirmed, fails for good or is dropped.
func (c *Coordinator) PerformMutation(ctx context.Context, m Mutation) (*Pending, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	p, err := c.performLocked(m)
	c.mu.Unlock()
	c.afterMutation(p, err)
	return p, err
}

func (c *Coordinator) afterMutation(p *Pending, err error) {
	c.notify()
	if err == nil && !p.settled() && c.syncer.Online() {
		c.syncer.RequestSync()
	}
}

func (c *Coordinator) performLocked(m Mutation) (*Pending, error) {
	switch m.Type {
	case models.OpCreate:
		return c.createLocked(m.Patch)
	case models.OpUpdate:
		return c.updateLocked(m.LocalID, m.Patch)
	case models.OpDelete:
		return c.deleteLocked(m.LocalID)
	}
	return nil, fmt.Errorf("unknown mutation type %q", m.Type)
}

func (c *Coordinator) createLocked(p models.ReminderPatch) (*Pending, error) {
	now := time.Now().UTC()
	r := p.Apply(models.Reminder{
		LocalID:    uuid.NewString(),
		Priority:   models.PriorityMedium,
		CreatedAt:  now,
		UpdatedAt:  now,
		SyncStatus: models.StatusPending,
	})
	r.Text = strings.TrimSpace(r.Text)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	payload, err := models.NewPayload(models.FullPatch(r))
	if err != nil {
		return nil, err
	}
	op := &models.Operation{Type: models.OpCreate, LocalID: r.LocalID, Payload: payload}

	c.insert(r)
	if err := c.store.SaveMutation(&r, op); err != nil {
		c.revertLocked(r.LocalID, nil)
		return nil, err
	}
	return c.track(op, r, nil), nil
}

func (c *Coordinator) updateLocked(localID string, p models.ReminderPatch) (*Pending, error) {
	if p.IsEmpty() {
		return nil, errors.New("nothing to update")
	}
	if p.Text != nil {
		t := strings.TrimSpace(*p.Text)
		p.Text = &t
	}
	stored, err := c.store.Get(localID)
	if err != nil {
		return nil, err
	}
	if stored.IsDeleted() {
		return nil, fmt.Errorf("reminder %s: %w", localID, db.ErrNotFound)
	}
	next := p.Apply(*stored)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	if next.SyncStatus == models.StatusSynced {
		next.SyncStatus = models.StatusPending
	}
	payload, err := models.NewPayload(p)
	if err != nil {
		return nil, err
	}
	op := &models.Operation{Type: models.OpUpdate, LocalID: localID, TargetID: stored.ID,
		BaseVersion: stored.ServerVersion, Payload: payload}

	prev := c.applyLocked(localID, p, next.SyncStatus)
	if err := c.store.SaveMutation(&next, op); err != nil {
		c.revertLocked(localID, prev)
		return nil, err
	}
	return c.track(op, next, prev), nil
}

func (c *Coordinator) deleteLocked(localID string) (*Pending, error) {
	stored, err := c.store.Get(localID)
	if err != nil {
		return nil, err
	}
	if stored.IsDeleted() {
		return nil, fmt.Errorf("reminder %s: %w", localID, db.ErrNotFound)
	}
	prev := c.removeFromView(localID)

	if stored.ID == 0 {
		// Never reached the server: drop it and its queued work now.
		c.syncer.CancelEntity(localID)
		ops, err := c.store.ListOperationsForEntity(localID)
		if err != nil {
			c.revertLocked(localID, prev)
			return nil, err
		}
		if err := c.store.Remove(localID); err != nil {
			c.revertLocked(localID, prev)
			return nil, err
		}
		for _, op := range ops {
			c.settle(op.ID, nil, remsync.ErrSuperseded)
		}
		p := newPending("", localID, *stored)
		p.resolve(nil, nil)
		return p, nil
	}

	now := time.Now().UTC()
	tomb := *stored
	tomb.DeletedAt = &now
	if tomb.SyncStatus == models.StatusSynced {
		tomb.SyncStatus = models.StatusPending
	}
	op := &models.Operation{Type: models.OpDelete, LocalID: localID, TargetID: stored.ID,
		BaseVersion: stored.ServerVersion}
	// Queued updates are about to be superseded; their retries go too.
	c.syncer.CancelEntity(localID)
	superseded, err := c.store.SaveDelete(&tomb, op)
	if err != nil {
		c.revertLocked(localID, prev)
		return nil, err
	}
	for _, id := range superseded {
		c.settle(id, nil, remsync.ErrSuperseded)
	}
	return c.track(op, tomb, prev), nil
}

// current returns the view row, falling back to the store.
func (c *Coordinator) current(localID string) (models.Reminder, error) {
	if i := c.index(localID); i >= 0 {
		return c.view[i], nil
	}
	r, err := c.store.Get(localID)
	if err != nil {
		return models.Reminder{}, err
	}
	if r.IsDeleted() {
		return models.Reminder{}, fmt.Errorf("reminder %s: %w", localID, db.ErrNotFound)
	}
	return *r, nil
}

func (c *Coordinator) track(op *models.Operation, r models.Reminder, prev *models.Reminder) *Pending {
	p := newPending(op.ID, r.LocalID, r)
	p.previous = prev
	c.pending[op.ID] = p
	return p
}

// settle resolves and forgets the handle for opID, if any.
func (c *Coordinator) settle(opID string, r *models.Reminder, err error) *Pending {
	p := c.pending[opID]
	if p == nil {
		return nil
	}
	delete(c.pending, opID)
	p.resolve(r, err)
	return p
}

// ApplyOptimistic applies p to the view row for localID and returns the
// previous value for Revert. The store is not touched.
func (c *Coordinator) ApplyOptimistic(localID string, p models.ReminderPatch) (*models.Reminder, error) {
	c.mu.Lock()
	prev := c.applyLocked(localID, p, models.StatusPending)
	c.mu.Unlock()
	if prev == nil {
		return nil, fmt.Errorf("reminder %s: %w", localID, db.ErrNotFound)
	}
	c.notify()
	return prev, nil
}

func (c *Coordinator) applyLocked(localID string, p models.ReminderPatch, status models.SyncStatus) *models.Reminder {
	i := c.index(localID)
	if i < 0 {
		return nil
	}
	prev := c.view[i]
	next := p.Apply(prev)
	next.SyncStatus = status
	c.view[i] = next
	return &prev
}

// Commit replaces the view row with the stored row.
func (c *Coordinator) Commit(localID string) error {
	r, err := c.store.Get(localID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	c.mu.Lock()
	c.refreshLocked(localID, r)
	c.mu.Unlock()
	c.notify()
	return nil
}

// refreshLocked mirrors the stored row r (nil when gone) into the view.
func (c *Coordinator) refreshLocked(localID string, r *models.Reminder) {
	c.removeFromView(localID)
	if r != nil && !r.IsDeleted() {
		c.insert(*r)
	}
}

// Revert restores previous in the view, or removes the row when previous is
// nil. Reverting twice is harmless.
func (c *Coordinator) Revert(localID string, previous *models.Reminder) {
	c.mu.Lock()
	c.revertLocked(localID, previous)
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) revertLocked(localID string, previous *models.Reminder) {
	c.removeFromView(localID)
	if previous != nil {
		c.insert(*previous)
	}
}

func (c *Coordinator) onOutcome(out remsync.Outcome) {
	c.mu.Lock()
	switch out.Kind {
	case remsync.OutcomeSucceeded:
		c.refreshLocked(out.Op.LocalID, out.Entity)
		c.settle(out.Op.ID, out.Entity, nil)
	case remsync.OutcomeFailed:
		if p := c.settle(out.Op.ID, nil, out.Err); p != nil {
			c.revertLocked(out.Op.LocalID, p.previous)
			slog.Debug("optimistic: reverted", "local_id", out.Op.LocalID, "op", out.Op.ID, "err", out.Err)
		}
	case remsync.OutcomeConflict:
		if i := c.index(out.Op.LocalID); i >= 0 {
			c.view[i].SyncStatus = models.StatusConflict
		}
		c.settle(out.Op.ID, nil, fmt.Errorf("%w: %v", ErrConflict, out.Err))
	case remsync.OutcomeDropped:
		r, err := c.store.Get(out.Op.LocalID)
		if err != nil {
			r = nil
		}
		c.refreshLocked(out.Op.LocalID, r)
		c.settle(out.Op.ID, nil, out.Err)
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) notify() {
	if c.changes.Len() == 0 {
		return
	}
	c.changes.Publish(c.View())
}

// compare orders the view newest first, then by local id.
func compare(a, b models.Reminder) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.LocalID, b.LocalID)
}

func (c *Coordinator) index(localID string) int {
	return slices.IndexFunc(c.view, func(r models.Reminder) bool { return r.LocalID == localID })
}

// insert places r at its sorted position.
func (c *Coordinator) insert(r models.Reminder) {
	i, _ := slices.BinarySearchFunc(c.view, r, compare)
	c.view = slices.Insert(c.view, i, r)
}

// removeFromView drops the row and returns it, or nil if absent.
func (c *Coordinator) removeFromView(localID string) *models.Reminder {
	i := c.index(localID)
	if i < 0 {
		return nil
	}
	r := c.view[i]
	c.view = slices.Delete(c.view, i, i+1)
	return &r
}
