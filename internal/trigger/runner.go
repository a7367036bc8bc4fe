package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roach88/lotkeep/internal/connectivity"
	"github.com/roach88/lotkeep/internal/engine"
	"github.com/roach88/lotkeep/internal/remote"
)

// Facility is the part of *engine.Facility the runner drives.
type Facility interface {
	Sync(ctx context.Context) (engine.PassResult, error)
	Refresh(ctx context.Context) (engine.View, error)
}

// Runner owns the scheduled and event-driven triggers of one client.
//
// Run must be called from exactly one goroutine. RequestSync and
// RequestRefresh are safe from any goroutine.
type Runner struct {
	facility Facility
	monitor  *connectivity.Monitor
	remote   remote.Store
	logger   *slog.Logger

	syncInterval  time.Duration
	probeInterval time.Duration

	// Signals are buffered (size 1) so repeated requests coalesce.
	syncSignal      chan struct{}
	refreshSignal   chan struct{}
	subscribeSignal chan struct{}

	onView []func(engine.View)
	subs   []remote.Subscription
}

// Option configures a Runner.
type Option func(*Runner)

// WithSyncInterval sets the period of scheduled sync passes. Zero disables them.
func WithSyncInterval(d time.Duration) Option {
	return func(r *Runner) { r.syncInterval = d }
}

// WithProbeInterval sets the period of connectivity probes. Zero disables them.
func WithProbeInterval(d time.Duration) Option {
	return func(r *Runner) { r.probeInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// OnView registers fn to receive every refreshed view. Called from the Run
// goroutine.
func OnView(fn func(engine.View)) Option {
	return func(r *Runner) { r.onView = append(r.onView, fn) }
}

// New creates a Runner. rs may be nil, in which case no remote change
// subscriptions are made.
func New(f Facility, m *connectivity.Monitor, rs remote.Store, opts ...Option) *Runner {
	r := &Runner{
		facility:        f,
		monitor:         m,
		remote:          rs,
		logger:          slog.Default(),
		syncInterval:    30 * time.Second,
		probeInterval:   10 * time.Second,
		syncSignal:      make(chan struct{}, 1),
		refreshSignal:   make(chan struct{}, 1),
		subscribeSignal: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "trigger")
	return r
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// RequestSync asks for a sync pass. Requests made while one is pending are
// merged.
func (r *Runner) RequestSync() {
	signal(r.syncSignal)
}

// RequestRefresh asks for a view refresh.
func (r *Runner) RequestRefresh() {
	signal(r.refreshSignal)
}

// Run schedules the periodic triggers and processes signals until ctx is
// cancelled. Scheduled jobs are stopped and subscriptions closed before it
// returns.
func (r *Runner) Run(ctx context.Context) error {
	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if r.syncInterval > 0 {
		if _, err := sched.AddFunc(every(r.syncInterval), r.RequestSync); err != nil {
			return fmt.Errorf("schedule sync: %w", err)
		}
	}
	if r.probeInterval > 0 && r.monitor != nil {
		if _, err := sched.AddFunc(every(r.probeInterval), func() { r.monitor.Check(ctx) }); err != nil {
			return fmt.Errorf("schedule probe: %w", err)
		}
	}

	if r.monitor != nil {
		r.monitor.OnTransition(func(t connectivity.Transition) {
			if t.To {
				r.RequestSync()
				signal(r.subscribeSignal)
			}
		})
	}
	if r.monitor == nil || r.monitor.IsOnline() {
		r.subscribe(ctx)
		r.RequestSync()
	}

	sched.Start()
	r.logger.Info("triggers started", "sync_interval", r.syncInterval, "probe_interval", r.probeInterval)
	defer func() {
		<-sched.Stop().Done()
		r.closeSubscriptions()
		r.logger.Info("triggers stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.syncSignal:
			r.runSync(ctx)
		case <-r.refreshSignal:
			r.refresh(ctx)
		case <-r.subscribeSignal:
			r.subscribe(ctx)
		}
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

func (r *Runner) runSync(ctx context.Context) {
	if r.monitor != nil && !r.monitor.IsOnline() {
		return
	}
	res, err := r.facility.Sync(ctx)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		return
	case err != nil:
		r.logger.Error("sync pass failed", "error", err, "kind", engine.ErrorKind(err))
	case res.Skipped:
		r.logger.Debug("sync pass skipped, another pass running")
		return
	case res.Aborted && r.monitor != nil:
		// The pass found the remote unreachable; let a probe confirm.
		r.monitor.Check(ctx)
	}
	r.refresh(ctx)
}

func (r *Runner) refresh(ctx context.Context) {
	view, err := r.facility.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("refresh failed", "error", err, "kind", engine.ErrorKind(err))
		}
		return
	}
	r.logger.Debug("view refreshed",
		"active", len(view.ActiveSessions),
		"waitlist", view.WaitlistCount,
		"pending", view.Pending,
	)
	for _, fn := range r.onView {
		fn(view)
	}
}

// subscribe (re)opens change feeds for both remote tables.
func (r *Runner) subscribe(ctx context.Context) {
	if r.remote == nil {
		return
	}
	r.closeSubscriptions()
	for _, table := range []remote.Table{remote.TableSessions, remote.TableWaitlist} {
		sub, err := r.remote.Subscribe(ctx, table, func(remote.Change) { r.RequestRefresh() })
		if err != nil {
			r.logger.Warn("subscribe failed", "table", table, "error", err)
			continue
		}
		r.subs = append(r.subs, sub)
	}
}

func (r *Runner) closeSubscriptions() {
	for _, sub := range r.subs {
		if err := sub.Close(); err != nil {
			r.logger.Debug("close subscription", "error", err)
		}
	}
	r.subs = nil
}
