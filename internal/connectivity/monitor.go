package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober checks reachability of the remote store. remote.Store satisfies it.
type Prober interface {
	Ping(ctx context.Context) error
}

// Transition is an observed change of the online indicator.
type Transition struct {
	From bool
	To   bool
	At   time.Time
}

// Monitor is the online indicator.
//
// Thread-safety: all methods are safe for concurrent use. Listeners are
// invoked synchronously, outside the lock, on the goroutine that caused the
// transition.
type Monitor struct {
	prober  Prober
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.Mutex
	online    bool
	listeners []func(Transition)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInitial sets the state before the first probe. The default is offline.
func WithInitial(online bool) Option {
	return func(m *Monitor) { m.online = online }
}

// WithTimeout bounds each probe. The default is 3s.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) { m.timeout = d }
}

// WithClock sets the time source for transition timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor probing p.
func New(p Prober, opts ...Option) *Monitor {
	m := &Monitor{
		prober:  p,
		timeout: 3 * time.Second,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "connectivity")
	return m
}

// IsOnline reports the current indicator.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnTransition registers fn to be called on every online/offline change.
func (m *Monitor) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Check probes the remote store and updates the indicator. It returns the
// new state.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Ping(probeCtx)
	if err != nil && ctx.Err() != nil {
		// Shutting down; a cancelled probe says nothing about the link.
		return m.IsOnline()
	}
	if err != nil {
		m.logger.Debug("probe failed", "error", err)
	}
	online := err == nil
	m.Set(online)
	return online
}

// Set overrides the indicator.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	t := Transition{From: m.online, To: online, At: m.now()}
	m.online = online
	listeners := make([]func(Transition), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if online {
		m.logger.Info("remote store reachable")
	} else {
		m.logger.Warn("remote store unreachable, working offline")
	}
	for _, fn := range listeners {
		fn(t)
	}
}
