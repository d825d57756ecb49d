// Package connectivity implements component H: a small state machine
// that tracks whether this process currently has a working
// connection to the message bus, runs bounded-timeout probes to
// detect transitions, and invokes registered callbacks when the
// connection is regained so the engine can drain queued work and
// re-stabilize before resuming its normal push cadence.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the connectivity state machine's current value.
type State int

const (
	StateUnknown State = iota
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Prober checks whether the bus is currently reachable. It must
// return promptly; Monitor wraps every call with its own timeout.
type Prober func(ctx context.Context) error

// ReconnectFunc is invoked once connectivity transitions from offline
// (or unknown) to online, after the configured stabilization delay.
type ReconnectFunc func(ctx context.Context)

// Monitor runs the probe loop and dispatches reconnect callbacks.
type Monitor struct {
	probe          Prober
	checkInterval  time.Duration
	probeTimeout   time.Duration
	stabilization  time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	state     State
	callbacks []ReconnectFunc
}

func NewMonitor(probe Prober, checkInterval, probeTimeout, stabilization time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		probe:         probe,
		checkInterval: checkInterval,
		probeTimeout:  probeTimeout,
		stabilization: stabilization,
		logger:        logger,
		state:         StateUnknown,
	}
}

// OnReconnect registers a callback run after a transition back to
// online, once the stabilization delay has elapsed. Callbacks run
// sequentially in registration order.
func (m *Monitor) OnReconnect(fn ReconnectFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// State returns the current connectivity state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start runs the probe loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	err := m.probe(probeCtx)

	m.mu.Lock()
	prev := m.state
	if err != nil {
		m.state = StateOffline
	} else {
		m.state = StateOnline
	}
	next := m.state
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("connectivity: probe failed", "error", err, "state", next.String())
		return
	}
	if prev != StateOnline && next == StateOnline {
		m.logger.Info("connectivity: regained connectivity, stabilizing", "delay", m.stabilization)
		go m.fireReconnect(ctx)
	}
}

func (m *Monitor) fireReconnect(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.stabilization):
	}
	m.mu.Lock()
	callbacks := append([]ReconnectFunc(nil), m.callbacks...)
	stillOnline := m.state == StateOnline
	m.mu.Unlock()
	if !stillOnline {
		return
	}
	for _, cb := range callbacks {
		cb(ctx)
	}
}

// WaitForOnline blocks until the monitor observes an online state or
// ctx is canceled, polling at the given interval. It is used by
// callers (such as a first-push-at-startup path) that must not
// proceed until connectivity is confirmed.
func (m *Monitor) WaitForOnline(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if m.State() == StateOnline {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Backoff computes an exponential backoff delay with a cap, used by
// the bus client's connect loop (component D/E).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
