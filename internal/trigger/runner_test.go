package trigger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lotkeep/internal/connectivity"
	"github.com/roach88/lotkeep/internal/engine"
	"github.com/roach88/lotkeep/internal/model"
	"github.com/roach88/lotkeep/internal/remote/memstore"
	"github.com/roach88/lotkeep/internal/store"
)

type views struct {
	mu  sync.Mutex
	all []engine.View
}

func (v *views) add(view engine.View) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.all = append(v.all, view)
}

func (v *views) last() (engine.View, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.all) == 0 {
		return engine.View{}, false
	}
	return v.all[len(v.all)-1], true
}

type rig struct {
	store    *store.Store
	remote   *memstore.Store
	monitor  *connectivity.Monitor
	facility *engine.Facility
	views    *views
}

func newRig(t *testing.T, online bool) *rig {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	rs := memstore.New()
	rs.SetOnline(online)
	mon := connectivity.New(rs, connectivity.WithInitial(online))
	return &rig{
		store:    s,
		remote:   rs,
		monitor:  mon,
		facility: engine.New(s, s, rs, engine.WithConnectivity(mon), engine.WithCapacity(3)),
		views:    &views{},
	}
}

// start runs the runner with scheduled entries far in the future so tests
// drive it through events only.
func (r *rig) start(t *testing.T) *Runner {
	t.Helper()
	runner := New(r.facility, r.monitor, r.remote,
		WithSyncInterval(time.Hour),
		WithProbeInterval(time.Hour),
		OnView(r.views.add),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("runner did not stop")
		}
	})
	return runner
}

func (r *rig) queueLen(t *testing.T) int {
	n, err := r.store.Len(context.Background())
	require.NoError(t, err)
	return n
}

func TestRunner_SyncsOnReconnect(t *testing.T) {
	r := newRig(t, false)
	ctx := context.Background()

	_, err := r.facility.CheckIn(ctx, engine.CheckInRequest{Plate: "AA11"})
	require.NoError(t, err)
	_, err = r.facility.CheckIn(ctx, engine.CheckInRequest{Plate: "BB22"})
	require.NoError(t, err)
	require.Equal(t, 2, r.queueLen(t))

	r.start(t)
	r.remote.SetOnline(true)
	r.monitor.Set(true)

	require.Eventually(t, func() bool { return r.queueLen(t) == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, r.remote.Sessions(), 2)
}

func TestRunner_RemoteChangeRefreshesView(t *testing.T) {
	r := newRig(t, true)
	r.start(t)

	// Wait for the startup pass so the subscriptions are in place.
	require.Eventually(t, func() bool { _, ok := r.views.last(); return ok }, 5*time.Second, 10*time.Millisecond)

	// Another client writes directly to the remote store.
	_, err := r.remote.InsertSession(context.Background(), model.ParkingSession{ClientRef: "other-1", Plate: "ZZ99"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, ok := r.views.last()
		return ok && len(v.ActiveSessions) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunner_RequestSyncWhileOffline(t *testing.T) {
	r := newRig(t, false)
	ctx := context.Background()
	_, err := r.facility.CheckIn(ctx, engine.CheckInRequest{Plate: "AA11"})
	require.NoError(t, err)

	runner := r.start(t)
	runner.RequestSync()
	runner.RequestSync()

	// Nothing is attempted while offline.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, r.queueLen(t))
	assert.Empty(t, r.remote.Journal())
}

func TestRunner_ProbeAfterAbortedPass(t *testing.T) {
	r := newRig(t, true)
	ctx := context.Background()

	// The link drops without the monitor noticing.
	r.remote.SetOnline(false)
	_, err := r.facility.CheckIn(ctx, engine.CheckInRequest{Plate: "AA11"})
	require.NoError(t, err)

	runner := r.start(t)
	runner.RequestSync()

	require.Eventually(t, func() bool { return !r.monitor.IsOnline() }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, r.queueLen(t))
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 30s", every(30*time.Second))
	assert.Equal(t, "@every 1m30s", every(90*time.Second))
}
