package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/marcus/rem/internal/optimistic"
	"github.com/marcus/rem/internal/output"
	remsync "github.com/marcus/rem/internal/sync"
	"github.com/marcus/rem/internal/syncconfig"
)

// autoSyncTimeout bounds the pass a mutating command runs before exiting.
const autoSyncTimeout = 10 * time.Second

// mutatingCommands lists commands that modify local data and should trigger auto-sync.
var mutatingCommands = map[string]bool{
	"add":     true,
	"update":  true,
	"toggle":  true,
	"done":    true,
	"delete":  true,
	"resolve": true,
	"retry":   true,
}

// isMutatingCommand checks if the given command name triggers auto-sync.
func isMutatingCommand(name string) bool {
	return mutatingCommands[name]
}

// AutoSyncEnabled returns true if auto-sync is enabled and there is a
// session to sync with.
func AutoSyncEnabled() bool {
	return syncconfig.GetAutoSyncEnabled() && syncconfig.IsAuthenticated()
}

// autoSyncAfterMutation runs one pass after a mutating command so the change
// reaches the server before the process exits. Errors are logged, not
// returned: the change is already durable in the outbox.
func autoSyncAfterMutation(ctx context.Context, a *app, name string) {
	if !isMutatingCommand(name) || !AutoSyncEnabled() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, autoSyncTimeout)
	defer cancel()

	err := a.orch.SyncNow(ctx)
	switch {
	case err == nil:
	case errors.Is(err, remsync.ErrOffline):
		slog.Debug("autosync: offline", "err", err)
	case errors.Is(err, remsync.ErrAuthHalted):
		output.Warning("sync paused: session expired, run 'rem auth login'")
	default:
		slog.Debug("autosync: pass", "err", err)
	}
}

// reportPending prints where a mutation ended up after auto-sync: confirmed
// by the server, rejected, or still queued.
func reportPending(p *optimistic.Pending, what string) error {
	select {
	case <-p.Done():
	default:
		output.Info("%s (queued for sync)", what)
		return nil
	}
	_, err := p.Wait(context.Background())
	switch {
	case err == nil:
		output.Success("%s (synced)", what)
	case errors.Is(err, optimistic.ErrConflict):
		output.Warning("%s: conflicts with the server copy, see 'rem sync conflicts'", what)
	default:
		output.Error("%s: %v", what, err)
		return err
	}
	return nil
}
