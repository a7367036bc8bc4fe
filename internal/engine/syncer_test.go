package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lotkeep/internal/model"
	"github.com/roach88/lotkeep/internal/remote/memstore"
	"github.com/roach88/lotkeep/internal/store"
	"github.com/roach88/lotkeep/internal/testutil"
)

type syncFixture struct {
	syncer *Syncer
	store  *store.Store
	remote *memstore.Store
	clock  *testutil.ManualClock
}

func newSyncFixture(t *testing.T, policy BackoffPolicy) *syncFixture {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	rs := memstore.New(memstore.WithClock(clock.Now))
	return &syncFixture{
		syncer: NewSyncer(s, rs, policy, clock.Now, nil),
		store:  s,
		remote: rs,
		clock:  clock,
	}
}

func (fx *syncFixture) enqueue(t *testing.T, m model.Mutation) int64 {
	t.Helper()
	id, err := fx.store.Enqueue(context.Background(), m, "")
	require.NoError(t, err)
	return id
}

func checkInFor(plate, ref string) model.CheckIn {
	return model.CheckIn{Session: model.ParkingSession{ClientRef: ref, Plate: plate, CheckIn: r0}}
}

func TestRunPass_EmptyQueueIsNoop(t *testing.T) {
	fx := newSyncFixture(t, DefaultBackoff())

	res, err := fx.syncer.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PassResult{}, res)
	assert.Empty(t, fx.remote.Journal())
}

func TestRunPass_DeliversInOrder(t *testing.T) {
	fx := newSyncFixture(t, DefaultBackoff())
	fx.enqueue(t, checkInFor("AA", "r1"))
	fx.enqueue(t, model.WaitlistAdd{Entry: model.WaitlistEntry{ID: "w1", Plate: "BB", EntryTime: r0}})
	fx.enqueue(t, model.CheckOut{SessionRef: "r1", PlateNo: "AA", At: r0})
	fx.enqueue(t, model.WaitlistRemove{EntryID: "w1", PlateNo: "BB"})

	res, err := fx.syncer.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Delivered)

	assert.Equal(t, []string{
		"insert_session plate=AA client_ref=r1 id=s-0001",
		"waitlist_add plate=BB id=w1",
		"check_out plate=AA ref=r1",
		"waitlist_remove plate=BB id=w1",
	}, fx.remote.Journal())

	n, err := fx.store.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunPass_FailureDefersSamePlateOnly(t *testing.T) {
	fx := newSyncFixture(t, DefaultBackoff())
	fx.remote.RejectPlate("AA", errors.New("constraint violation"))

	fx.enqueue(t, checkInFor("AA", "r1"))
	fx.enqueue(t, checkInFor("BB", "r2"))
	fx.enqueue(t, model.CheckOut{SessionRef: "r1", PlateNo: "AA", At: r0})

	res, err := fx.syncer.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Deferred)

	pending, err := fx.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, model.OpCheckIn, pending[0].Op())
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "constraint violation", pending[0].LastError)
	assert.True(t, pending[0].NextAttemptAt.Equal(fx.clock.Now().Add(5*time.Second)))
	assert.Equal(t, 0, pending[1].Attempts, "deferred items are not charged")
}

func TestRunPass_DeadLettersAfterMaxAttempts(t *testing.T) {
	fx := newSyncFixture(t, BackoffPolicy{Base: time.Second, Max: time.Second, MaxAttempts: 3})
	ctx := context.Background()
	fx.remote.RejectPlate("AA", nil)
	id := fx.enqueue(t, checkInFor("AA", "r1"))

	for i := 0; i < 2; i++ {
		res, err := fx.syncer.RunPass(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
		fx.clock.Advance(time.Second)
	}

	res, err := fx.syncer.RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeadLettered)

	n, err := fx.store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	letters, err := fx.store.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, id, letters[0].Item.ID)
	assert.Contains(t, letters[0].Reason, "rejected 3 times")
}

func TestRunPass_OutageAbortsWithoutChargingAttempts(t *testing.T) {
	fx := newSyncFixture(t, DefaultBackoff())
	fx.enqueue(t, checkInFor("AA", "r1"))
	fx.enqueue(t, checkInFor("BB", "r2"))
	fx.remote.SetOnline(false)

	res, err := fx.syncer.RunPass(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, 0, res.Delivered)

	pending, err := fx.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 0, pending[0].Attempts)
}

func TestRunPass_CancelledBeforeStart(t *testing.T) {
	fx := newSyncFixture(t, DefaultBackoff())
	fx.enqueue(t, checkInFor("AA", "r1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.syncer.RunPass(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fx.remote.Journal())
}

func TestRunPass_CheckOutBeforeCheckInRejected(t *testing.T) {
	fx := newSyncFixture(t, DefaultBackoff())
	fx.enqueue(t, model.CheckOut{SessionRef: "ghost", PlateNo: "AA", At: r0})

	res, err := fx.syncer.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
}

// gatedStore blocks InsertSession until released.
type gatedStore struct {
	*memstore.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) InsertSession(ctx context.Context, s model.ParkingSession) (model.ParkingSession, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Store.InsertSession(ctx, s)
}

func TestRunPass_ConcurrentTriggerSkipped(t *testing.T) {
	fx := newSyncFixture(t, DefaultBackoff())
	gated := &gatedStore{Store: fx.remote, entered: make(chan struct{}), release: make(chan struct{})}
	syncer := NewSyncer(fx.store, gated, DefaultBackoff(), fx.clock.Now, nil)
	fx.enqueue(t, checkInFor("AA", "r1"))

	done := make(chan PassResult)
	go func() {
		res, _ := syncer.RunPass(context.Background())
		done <- res
	}()
	<-gated.entered
	assert.True(t, syncer.Running())

	res, err := syncer.RunPass(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(gated.release)
	first := <-done
	assert.Equal(t, 1, first.Delivered)
	assert.False(t, syncer.Running())
}

func TestRunPass_InFlightCallSurvivesCancel(t *testing.T) {
	fx := newSyncFixture(t, DefaultBackoff())
	gated := &gatedStore{Store: fx.remote, entered: make(chan struct{}), release: make(chan struct{})}
	syncer := NewSyncer(fx.store, gated, DefaultBackoff(), fx.clock.Now, nil)
	fx.enqueue(t, checkInFor("AA", "r1"))
	fx.enqueue(t, checkInFor("BB", "r2"))

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res PassResult
		err error
	}
	done := make(chan outcome)
	go func() {
		res, err := syncer.RunPass(ctx)
		done <- outcome{res, err}
	}()
	<-gated.entered
	cancel()
	close(gated.release)

	out := <-done
	assert.ErrorIs(t, out.err, context.Canceled)
	assert.Equal(t, 1, out.res.Delivered, "the in-flight item resolves")

	pending, err := fx.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "BB", pending[0].Mutation.Plate())
}

func TestPassResult_String(t *testing.T) {
	assert.Equal(t, "skipped", PassResult{Skipped: true}.String())
	assert.Equal(t, "delivered=3 failed=1 deferred=2 dead_lettered=0",
		PassResult{Delivered: 3, Failed: 1, Deferred: 2}.String())
	assert.Equal(t, "delivered=1 failed=0 deferred=0 dead_lettered=0 aborted",
		PassResult{Delivered: 1, Aborted: true}.String())
}
