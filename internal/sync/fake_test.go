package sync

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/rem/internal/db"
	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/retry"
	"github.com/marcus/rem/internal/syncclient"
)

// fakeRemote is an in-memory server with If-Match semantics and scripted
// failures.
type fakeRemote struct {
	mu    stdsync.Mutex
	items map[int64]models.RemoteReminder
	next  int64
	clock time.Time
	fail  map[string][]error // method -> errors returned by the next calls
	calls []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		items: make(map[int64]models.RemoteReminder),
		next:  1,
		clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		fail:  make(map[string][]error),
	}
}

func (f *fakeRemote) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

// failNext makes the next len(errs) calls of method return errs in order.
func (f *fakeRemote) failNext(method string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = append(f.fail[method], errs...)
}

// failAlways makes every call of method return err.
func (f *fakeRemote) failAlways(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	errs := make([]error, 1000)
	for i := range errs {
		errs[i] = err
	}
	f.fail[method] = errs
}

func (f *fakeRemote) enter(method string) error {
	f.calls = append(f.calls, method)
	if q := f.fail[method]; len(q) > 0 {
		f.fail[method] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeRemote) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

// seed adds a server-side reminder and returns it.
func (f *fakeRemote) seed(text string) models.RemoteReminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	rr := models.RemoteReminder{ID: f.next, Text: text, ReminderDate: "2026-03-02",
		Priority: models.PriorityMedium, CreatedAt: now, UpdatedAt: now}
	f.items[rr.ID] = rr
	f.next++
	return rr
}

// edit changes a server copy behind the client's back.
func (f *fakeRemote) edit(id int64, text string) models.RemoteReminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	rr := f.items[id]
	rr.Text = text
	rr.UpdatedAt = f.tick()
	f.items[id] = rr
	return rr
}

func (f *fakeRemote) remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
}

func (f *fakeRemote) get(id int64) (models.RemoteReminder, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rr, ok := f.items[id]
	return rr, ok
}

func (f *fakeRemote) FetchReminders(ctx context.Context) ([]models.RemoteReminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("fetch"); err != nil {
		return nil, err
	}
	out := make([]models.RemoteReminder, 0, len(f.items))
	for _, rr := range f.items {
		out = append(out, rr)
	}
	return out, nil
}

func (f *fakeRemote) GetReminder(ctx context.Context, id int64) (*models.RemoteReminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("get"); err != nil {
		return nil, err
	}
	rr, ok := f.items[id]
	if !ok {
		return nil, &syncclient.HTTPError{Status: 404}
	}
	return &rr, nil
}

func (f *fakeRemote) CreateReminder(ctx context.Context, p models.ReminderPatch) (*models.RemoteReminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("create"); err != nil {
		return nil, err
	}
	now := f.tick()
	rr := p.ApplyRemote(models.RemoteReminder{ID: f.next, CreatedAt: now, UpdatedAt: now})
	f.items[rr.ID] = rr
	f.next++
	return &rr, nil
}

func (f *fakeRemote) UpdateReminder(ctx context.Context, id int64, p models.ReminderPatch, base string) (*models.RemoteReminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("update"); err != nil {
		return nil, err
	}
	rr, ok := f.items[id]
	if !ok {
		return nil, &syncclient.HTTPError{Status: 404}
	}
	if base != "" && base != rr.Version() {
		return nil, &syncclient.HTTPError{Status: 409, Code: "version_mismatch"}
	}
	rr = p.ApplyRemote(rr)
	rr.UpdatedAt = f.tick()
	f.items[id] = rr
	return &rr, nil
}

func (f *fakeRemote) DeleteReminder(ctx context.Context, id int64, base string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("delete"); err != nil {
		return err
	}
	rr, ok := f.items[id]
	if !ok {
		return nil
	}
	if base != "" && base != rr.Version() {
		return &syncclient.HTTPError{Status: 409, Code: "version_mismatch"}
	}
	delete(f.items, id)
	return nil
}

func newTestStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// quickRetry retries almost immediately.
func quickRetry(max int) *retry.Policy {
	return &retry.Policy{BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, MaxRetries: max}
}

// slowRetry arms timers that never fire during a test.
func slowRetry() *retry.Policy {
	return &retry.Policy{BaseDelay: time.Hour, MaxDelay: time.Hour, MaxRetries: 5}
}

func newTestOrchestrator(t *testing.T, store Store, remote Remote, policy *retry.Policy) *Orchestrator {
	t.Helper()
	o := New(store, remote, Config{Retry: policy, Interval: -1})
	t.Cleanup(func() { o.Close() })
	return o
}

// queueCreate writes a local-only reminder with its CREATE op.
func queueCreate(t *testing.T, store *db.DB, text string) *models.Reminder {
	t.Helper()
	now := time.Now().UTC()
	r := &models.Reminder{LocalID: uuid.NewString(), Text: text, ReminderDate: "2026-03-05",
		Priority: models.PriorityHigh, CreatedAt: now, UpdatedAt: now, SyncStatus: models.StatusPending}
	payload, err := models.NewPayload(models.FullPatch(*r))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveMutation(r, &models.Operation{Type: models.OpCreate, LocalID: r.LocalID, Payload: payload}); err != nil {
		t.Fatalf("SaveMutation: %v", err)
	}
	return r
}

// queueUpdate applies p locally and queues an UPDATE based on the row's
// current server version.
func queueUpdate(t *testing.T, store *db.DB, localID string, p models.ReminderPatch) *models.Operation {
	t.Helper()
	cur, err := store.Get(localID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	next := p.Apply(*cur)
	next.SyncStatus = models.StatusPending
	payload, err := models.NewPayload(p)
	if err != nil {
		t.Fatal(err)
	}
	op := &models.Operation{Type: models.OpUpdate, LocalID: localID, TargetID: cur.ID,
		BaseVersion: cur.ServerVersion, Payload: payload}
	if err := store.SaveMutation(&next, op); err != nil {
		t.Fatalf("SaveMutation: %v", err)
	}
	return op
}

func findByServerID(t *testing.T, store *db.DB, id int64) *models.Reminder {
	t.Helper()
	r, err := store.GetByServerID(id)
	if err != nil {
		t.Fatalf("GetByServerID(%d): %v", id, err)
	}
	return r
}

// outcomeRecorder collects orchestrator outcomes.
type outcomeRecorder struct {
	ch chan Outcome
}

func recordOutcomes(o *Orchestrator) *outcomeRecorder {
	rec := &outcomeRecorder{ch: make(chan Outcome, 64)}
	o.SubscribeOutcomes(func(out Outcome) { rec.ch <- out })
	return rec
}

func (r *outcomeRecorder) wait(t *testing.T, kind OutcomeKind) Outcome {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case out := <-r.ch:
			if out.Kind == kind {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s outcome", kind)
		}
	}
}

func text(s string) *string { return &s }
