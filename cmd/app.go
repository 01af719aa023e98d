package cmd

import (
	"fmt"

	"github.com/marcus/rem/internal/db"
	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/metrics"
	"github.com/marcus/rem/internal/optimistic"
	"github.com/marcus/rem/internal/output"
	remsync "github.com/marcus/rem/internal/sync"
	"github.com/marcus/rem/internal/syncclient"
	"github.com/marcus/rem/internal/syncconfig"
)

// app bundles the local store, transport, orchestrator and coordinator a
// command works against.
type app struct {
	db     *db.DB
	client *syncclient.Client
	orch   *remsync.Orchestrator
	coord  *optimistic.Coordinator
}

// openApp opens the local store and wires the sync stack from config. The
// orchestrator's background loop is not started; commands that want a pass
// call SyncNow or Start themselves. m may be nil.
func openApp(m *metrics.Sync) (*app, error) {
	dir, err := syncconfig.GetDataDir()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	database, err := db.Open(dir)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus[events.Event]()
	serverURL := syncconfig.GetServerURL()
	transport := syncconfig.GetTransportPolicy()
	client := syncclient.New(syncclient.Config{
		BaseURL: serverURL,
		Timeout: syncconfig.GetHTTPTimeout(),
		Retry:   &transport,
		Events:  bus,
	}, syncconfig.FileTokens{ServerURL: serverURL})

	outbox := syncconfig.GetOutboxPolicy()
	orch := remsync.New(database, client, remsync.Config{
		Retry:    &outbox,
		Interval: syncconfig.GetSyncInterval(),
		Metrics:  m,
		Events:   bus,
	})

	coord := optimistic.New(database, orch)
	if err := coord.Load(); err != nil {
		orch.Close()
		database.Close()
		return nil, err
	}
	return &app{db: database, client: client, orch: orch, coord: coord}, nil
}

// Close stops the orchestrator and releases the store.
func (a *app) Close() {
	a.coord.Close()
	a.orch.Close()
	a.db.Close()
}

// withApp runs fn against a freshly opened app and reports open failures the
// way every command does.
func withApp(fn func(a *app) error) error {
	a, err := openApp(nil)
	if err != nil {
		output.Error("open store: %v", err)
		return err
	}
	defer a.Close()
	return fn(a)
}
