package sync

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/marcus/rem/internal/models"
)

// fakeConnectivity is a ConnectivitySource flipped by the test.
type fakeConnectivity struct {
	mu     stdsync.Mutex
	online bool
	subs   map[int]func(bool)
	next   int
}

func newFakeConnectivity(online bool) *fakeConnectivity {
	return &fakeConnectivity{online: online, subs: make(map[int]func(bool))}
}

func (f *fakeConnectivity) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeConnectivity) Subscribe(fn func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeConnectivity) set(online bool) {
	f.mu.Lock()
	f.online = online
	subs := make([]func(bool), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startLoop(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o.Start(ctx)
}

func TestStartRunsPullOnlyPass(t *testing.T) {
	store := newTestStore(t)
	remote := newFakeRemote()
	seeded := remote.seed("from server")
	o := newTestOrchestrator(t, store, remote, nil)
	queueCreate(t, store, "local draft")

	startLoop(t, o)
	waitFor(t, "startup pull", func() bool {
		_, err := store.GetByServerID(seeded.ID)
		return err == nil && !o.Status().Syncing
	})
	if n := remote.count("create"); n != 0 {
		t.Fatalf("startup pass pushed %d creates", n)
	}

	o.RequestSync()
	waitFor(t, "requested push", func() bool { return remote.count("create") == 1 })
}

func TestGoingOnlineWithPendingRequestsSync(t *testing.T) {
	store := newTestStore(t)
	remote := newFakeRemote()
	o := newTestOrchestrator(t, store, remote, nil)
	rec := recordOutcomes(o)
	startLoop(t, o)
	waitFor(t, "startup pull", func() bool { return remote.count("fetch") == 1 && !o.Status().Syncing })

	o.SetOnline(false)
	queueCreate(t, store, "written offline")
	time.Sleep(30 * time.Millisecond)
	if n := remote.count("create"); n != 0 {
		t.Fatalf("pushed %d creates while offline", n)
	}

	o.SetOnline(true)
	out := rec.wait(t, OutcomeSucceeded)
	if out.Op.Type != models.OpCreate {
		t.Fatalf("outcome op = %s, want CREATE", out.Op.Type)
	}
	if n, _ := store.CountPending(); n != 0 {
		t.Fatalf("pending = %d after reconnect", n)
	}
}

func TestGoingOnlineWithEmptyOutboxStaysIdle(t *testing.T) {
	store := newTestStore(t)
	remote := newFakeRemote()
	o := newTestOrchestrator(t, store, remote, nil)
	startLoop(t, o)
	waitFor(t, "startup pull", func() bool { return remote.count("fetch") == 1 && !o.Status().Syncing })

	o.SetOnline(false)
	o.SetOnline(true)
	time.Sleep(50 * time.Millisecond)
	if n := remote.count("fetch"); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
}

func TestPeriodicPassOnlyWithPendingWork(t *testing.T) {
	store := newTestStore(t)
	remote := newFakeRemote()
	o := New(store, remote, Config{Interval: 15 * time.Millisecond})
	t.Cleanup(func() { o.Close() })
	startLoop(t, o)
	waitFor(t, "startup pull", func() bool { return remote.count("fetch") == 1 && !o.Status().Syncing })

	time.Sleep(100 * time.Millisecond)
	if n := remote.count("fetch"); n != 1 {
		t.Fatalf("ticker ran %d passes with an empty outbox", n-1)
	}

	queueCreate(t, store, "needs push")
	waitFor(t, "periodic push", func() bool { return remote.count("create") == 1 })
	if n, _ := store.CountPending(); n != 0 {
		t.Fatalf("pending = %d after periodic pass", n)
	}
}

func TestRegisterBackgroundSyncFollowsConnectivity(t *testing.T) {
	store := newTestStore(t)
	remote := newFakeRemote()
	o := newTestOrchestrator(t, store, remote, nil)
	src := newFakeConnectivity(false)

	stop := o.RegisterBackgroundSync(src)
	if o.Online() {
		t.Fatal("orchestrator online while source is offline")
	}
	startLoop(t, o)
	queueCreate(t, store, "queued offline")

	src.set(true)
	waitFor(t, "push after reconnect", func() bool { return remote.count("create") == 1 })

	src.set(false)
	if o.Online() {
		t.Fatal("orchestrator did not follow offline transition")
	}

	stop()
	src.set(true)
	if o.Online() {
		t.Fatal("orchestrator still following after cancel")
	}
}
