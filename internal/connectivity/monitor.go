// Package connectivity decides whether the server is reachable by probing
// its health endpoint.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/rem/internal/events"
	"github.com/marcus/rem/internal/syncclient"
)

// DefaultInterval is the probe interval.
const DefaultInterval = 30 * time.Second

// Prober checks the server once.
type Prober interface {
	HealthCheck(ctx context.Context) (*syncclient.HealthResponse, error)
}

// Monitor tracks reachability. Only failures to get a response count as
// offline; an HTTP error from a reachable server keeps it online.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	online bool
	probed bool
	bus    *events.Bus[bool]
}

// New returns a monitor that assumes it is online until the first probe.
func New(p Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		prober:   p,
		interval: interval,
		timeout:  5 * time.Second,
		online:   true,
		bus:      events.NewBus[bool](),
	}
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn for transitions.
func (m *Monitor) Subscribe(fn func(online bool)) (cancel func()) {
	return m.bus.Subscribe(fn)
}

// Check probes once, records the result and returns it.
func (m *Monitor) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.prober.HealthCheck(pctx)
	if ctx.Err() != nil {
		return m.Online()
	}
	online := err == nil || !syncclient.IsNetworkError(err)
	if err != nil && online {
		slog.Debug("connectivity: server unhealthy", "err", err)
	}
	m.set(online)
	return online
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	changed := !m.probed || m.online != online
	m.online = online
	m.probed = true
	m.mu.Unlock()
	if changed {
		slog.Debug("connectivity: state", "online", online)
		m.bus.Publish(online)
	}
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}
