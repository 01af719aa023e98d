package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/rem/internal/db"
	"github.com/marcus/rem/internal/models"
	"github.com/marcus/rem/internal/syncclient"
)

// divergedFixture syncs one reminder, edits it locally and then on the
// server, and returns its local id.
func divergedFixture(t *testing.T) (*db.DB, *fakeRemote, *Orchestrator, string, models.RemoteReminder) {
	t.Helper()
	store := newTestStore(t)
	remote := newFakeRemote()
	a := remote.seed("original")
	o := newTestOrchestrator(t, store, remote, slowRetry())
	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	local := findByServerID(t, store, a.ID)
	queueUpdate(t, store, local.LocalID, models.ReminderPatch{Text: text("local edit")})
	srv := remote.edit(a.ID, "server edit")
	return store, remote, o, local.LocalID, srv
}

func TestPullDetectsConflict(t *testing.T) {
	store, remote, o, localID, srv := divergedFixture(t)

	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	got, _ := store.Get(localID)
	if got.SyncStatus != models.StatusConflict || got.Text != "local edit" {
		t.Fatalf("row = %+v", got)
	}
	if n := remote.count("update"); n != 0 {
		t.Fatalf("conflicted entity pushed: %d", n)
	}
	c, err := store.GetConflict(localID)
	if err != nil {
		t.Fatal(err)
	}
	if c.Server.Text != "server edit" || c.Server.Version() != srv.Version() {
		t.Fatalf("snapshot = %+v", c.Server)
	}
	if st := o.Status(); st.ConflictCount != 1 {
		t.Fatalf("ConflictCount = %d", st.ConflictCount)
	}

	// A repeat pull with the same server copy records nothing new.
	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	c2, _ := store.GetConflict(localID)
	if !c2.DetectedAt.Equal(c.DetectedAt) {
		t.Fatal("conflict re-recorded for unchanged server copy")
	}
}

func TestResolveKeepServer(t *testing.T) {
	store, _, o, localID, _ := divergedFixture(t)
	rec := recordOutcomes(o)
	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	dropped, err := o.ResolveConflict(context.Background(), localID, KeepServer)
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if len(dropped) != 1 {
		t.Fatalf("dropped = %v", dropped)
	}
	got, _ := store.Get(localID)
	if got.SyncStatus != models.StatusSynced || got.Text != "server edit" {
		t.Fatalf("row = %+v", got)
	}
	if n, _ := store.CountPending(); n != 0 {
		t.Fatalf("pending = %d", n)
	}
	if _, err := store.GetConflict(localID); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("conflict not cleared: %v", err)
	}
	if out := rec.wait(t, OutcomeDropped); out.Op.ID != dropped[0] {
		t.Fatalf("dropped outcome for %s", out.Op.ID)
	}
}

func TestResolveKeepLocal(t *testing.T) {
	store, remote, o, localID, srv := divergedFixture(t)
	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := o.ResolveConflict(context.Background(), localID, KeepLocal); err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	ops, _ := store.ListOperationsForEntity(localID)
	if len(ops) != 1 || ops[0].Type != models.OpUpdate || ops[0].BaseVersion != srv.Version() {
		t.Fatalf("ops = %+v", ops)
	}
	got, _ := store.Get(localID)
	if got.SyncStatus != models.StatusPending {
		t.Fatalf("status = %s", got.SyncStatus)
	}

	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, _ = store.Get(localID)
	if got.SyncStatus != models.StatusSynced || got.Text != "local edit" {
		t.Fatalf("row = %+v", got)
	}
	if s, _ := remote.get(srv.ID); s.Text != "local edit" {
		t.Fatalf("server text = %q", s.Text)
	}
}

func TestResolveRequiresConflict(t *testing.T) {
	store := newTestStore(t)
	o := newTestOrchestrator(t, store, newFakeRemote(), nil)
	r := queueCreate(t, store, "x")
	if _, err := o.ResolveConflict(context.Background(), r.LocalID, KeepLocal); !errors.Is(err, ErrNoConflict) {
		t.Fatalf("err = %v, want ErrNoConflict", err)
	}
}

func TestPushConflictRecordsSnapshot(t *testing.T) {
	store := newTestStore(t)
	remote := newFakeRemote()
	a := remote.seed("original")
	o := newTestOrchestrator(t, store, remote, slowRetry())
	rec := recordOutcomes(o)
	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	local := findByServerID(t, store, a.ID)
	queueUpdate(t, store, local.LocalID, models.ReminderPatch{Text: text("mine")})
	remote.failNext("update", &syncclient.HTTPError{Status: 409})

	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	rec.wait(t, OutcomeConflict)
	got, _ := store.Get(local.LocalID)
	if got.SyncStatus != models.StatusConflict {
		t.Fatalf("status = %s", got.SyncStatus)
	}
	c, err := store.GetConflict(local.LocalID)
	if err != nil || c.Server.ID != a.ID {
		t.Fatalf("conflict = %+v, %v", c, err)
	}
	if len(o.ScheduledRetries()) != 0 {
		t.Fatal("conflict scheduled a retry")
	}
}

func TestServerDeletionWithLocalEdit(t *testing.T) {
	store := newTestStore(t)
	remote := newFakeRemote()
	a := remote.seed("original")
	o := newTestOrchestrator(t, store, remote, nil)
	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	local := findByServerID(t, store, a.ID)
	queueUpdate(t, store, local.LocalID, models.ReminderPatch{Text: text("still wanted")})
	remote.remove(a.ID)

	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	c, err := store.GetConflict(local.LocalID)
	if err != nil || !c.Deleted {
		t.Fatalf("conflict = %+v, %v", c, err)
	}

	if _, err := o.ResolveConflict(context.Background(), local.LocalID, KeepLocal); err != nil {
		t.Fatal(err)
	}
	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get(local.LocalID)
	if got.SyncStatus != models.StatusSynced || got.ID == a.ID || got.ID == 0 {
		t.Fatalf("row = %+v", got)
	}
	if s, ok := remote.get(got.ID); !ok || s.Text != "still wanted" {
		t.Fatalf("server copy = %+v, %v", s, ok)
	}
}

func TestLocalDeleteOfServerDeletedRow(t *testing.T) {
	store := newTestStore(t)
	remote := newFakeRemote()
	a := remote.seed("both delete")
	o := newTestOrchestrator(t, store, remote, nil)
	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	local := findByServerID(t, store, a.ID)
	now := time.Now().UTC()
	local.DeletedAt = &now
	local.SyncStatus = models.StatusPending
	if _, err := store.SaveDelete(local, &models.Operation{Type: models.OpDelete, LocalID: local.LocalID,
		TargetID: local.ID, BaseVersion: local.ServerVersion}); err != nil {
		t.Fatal(err)
	}
	remote.remove(a.ID)

	if err := o.SyncNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(local.LocalID); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("tombstone not removed: %v", err)
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in   string
		want Resolution
		ok   bool
	}{
		{"server", KeepServer, true},
		{"Theirs", KeepServer, true},
		{"local", KeepLocal, true},
		{" mine ", KeepLocal, true},
		{"both", "", false},
	}
	for _, tt := range tests {
		got, err := ParseResolution(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseResolution(%q) = %q, %v", tt.in, got, err)
		}
	}
}
