package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Start launches the background loop: a pull-only pass at startup, a full
// pass whenever RequestSync is called, and a periodic pass while operations
// are pending. The loop stops when ctx is done or Close is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started || o.closed.Load() {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		o.loop(ctx)
	}()
}

func (o *Orchestrator) loop(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	o.logPass("startup", o.PullOnly(ctx))

	var tick <-chan time.Time
	if o.interval > 0 {
		t := time.NewTicker(o.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.kick:
			o.logPass("requested", o.SyncNow(ctx))
		case <-tick:
			if !o.online.Load() || o.halted.Load() || o.running.Load() {
				continue
			}
			if n, err := o.store.CountPending(); err != nil || n == 0 {
				continue
			}
			o.logPass("periodic", o.SyncNow(ctx))
		}
	}
}

func (o *Orchestrator) logPass(trigger string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrOffline), errors.Is(err, ErrAuthHalted), errors.Is(err, ErrClosed):
		slog.Debug("sync: pass skipped", "trigger", trigger, "reason", err)
	case errors.Is(err, context.Canceled):
	default:
		slog.Debug("sync: pass error", "trigger", trigger, "err", err)
	}
}

// RequestSync asks the background loop for a full pass. It never blocks;
// requests made while one is queued coalesce.
func (o *Orchestrator) RequestSync() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// SetOnline updates connectivity. Going online with pending work requests a
// pass.
func (o *Orchestrator) SetOnline(online bool) {
	was := o.online.Swap(online)
	if was == online {
		return
	}
	slog.Info("sync: connectivity changed", "online", online)
	o.emit()
	if online {
		if n, err := o.store.CountPending(); err == nil && n > 0 {
			o.RequestSync()
		}
	}
}

// RegisterBackgroundSync follows src for connectivity changes. The returned
// func stops following it.
func (o *Orchestrator) RegisterBackgroundSync(src ConnectivitySource) (cancel func()) {
	o.SetOnline(src.Online())
	return src.Subscribe(o.SetOnline)
}
