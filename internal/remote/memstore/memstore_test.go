package memstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lotkeep/internal/model"
	"github.com/roach88/lotkeep/internal/remote"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

func TestInsertSession_DeduplicatesOnClientRef(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, err := s.InsertSession(ctx, model.ParkingSession{ClientRef: "ref-1", Plate: "ABC123", CheckIn: t0})
	require.NoError(t, err)
	assert.Equal(t, "s-0001", first.ID)

	again, err := s.InsertSession(ctx, model.ParkingSession{ClientRef: "ref-1", Plate: "ABC123", CheckIn: t0})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	active, err := s.SelectActiveSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	assert.Equal(t, []string{
		"insert_session plate=ABC123 client_ref=ref-1 id=s-0001",
		"insert_session plate=ABC123 client_ref=ref-1 duplicate",
	}, s.Journal())
}

func TestUpdateSessionCheckOut(t *testing.T) {
	ctx := context.Background()
	s := New()

	sess, err := s.InsertSession(ctx, model.ParkingSession{ClientRef: "ref-1", Plate: "ABC123", CheckIn: t0})
	require.NoError(t, err)

	// Addressable by client ref as well as remote id.
	require.NoError(t, s.UpdateSessionCheckOut(ctx, "ref-1", t0.Add(time.Hour)))
	require.NoError(t, s.UpdateSessionCheckOut(ctx, sess.ID, t0.Add(2*time.Hour)))

	all := s.Sessions()
	require.Len(t, all, 1)
	require.NotNil(t, all[0].CheckOut)
	assert.True(t, all[0].CheckOut.Equal(t0.Add(time.Hour)), "first check-out wins")

	active, err := s.SelectActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	err = s.UpdateSessionCheckOut(ctx, "nope", t0)
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestWaitlist_OrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i, plate := range []string{"CCC3", "AAA1", "BBB2"} {
		_, err := s.InsertWaitlistEntry(ctx, model.WaitlistEntry{
			ID:        plate,
			Plate:     plate,
			EntryTime: t0.Add(time.Duration(2-i) * time.Minute),
		})
		require.NoError(t, err)
	}

	entries, total, err := s.SelectWaitlist(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "BBB2", entries[0].Plate)
	assert.Equal(t, "AAA1", entries[1].Plate)

	require.NoError(t, s.DeleteWaitlistEntry(ctx, "BBB2"))
	require.NoError(t, s.DeleteWaitlistEntry(ctx, "BBB2"), "deleting a missing entry succeeds")

	_, total, err = s.SelectWaitlist(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestSelectWaitlistIDs(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SeedWaitlist(model.WaitlistEntry{ID: "w1", Plate: "AAA1", EntryTime: t0})
	s.SeedWaitlist(model.WaitlistEntry{ID: "w2", Plate: "BBB2", EntryTime: t0})

	held, err := s.SelectWaitlistIDs(ctx, []string{"w2", "missing", "w1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"w1", "w2"}, held)

	held, err = s.SelectWaitlistIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, held)

	s.SetOnline(false)
	_, err = s.SelectWaitlistIDs(ctx, []string{"w1"})
	assert.ErrorIs(t, err, remote.ErrUnavailable)
}

func TestFetchSnapshot_LooksUpIDsBeyondHead(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, plate := range []string{"AAA1", "BBB2", "CCC3"} {
		s.SeedWaitlist(model.WaitlistEntry{ID: plate, Plate: plate, EntryTime: t0.Add(time.Duration(i) * time.Minute)})
	}

	snap, err := remote.FetchSnapshot(ctx, s, 2, []string{"AAA1", "CCC3", "ZZZ9"}, t0)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.WaitlistCount)
	assert.Len(t, snap.Waitlist, 2)
	assert.False(t, snap.HeadComplete())
	assert.Equal(t, map[string]bool{"CCC3": true, "ZZZ9": false}, snap.TailHeld)

	snap, err = remote.FetchSnapshot(ctx, s, 0, []string{"ZZZ9"}, t0)
	require.NoError(t, err)
	assert.True(t, snap.HeadComplete())
	assert.Nil(t, snap.TailHeld, "a complete head needs no lookup")
}

func TestOffline_AllCallsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetOnline(false)

	_, err := s.InsertSession(ctx, model.ParkingSession{ClientRef: "r", Plate: "AAA1"})
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	assert.ErrorIs(t, s.UpdateSessionCheckOut(ctx, "r", t0), remote.ErrUnavailable)
	_, _, err = s.SelectWaitlist(ctx, 0)
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	_, err = s.FindVehicleByPlate(ctx, "AAA1")
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), remote.ErrUnavailable)
	assert.Empty(t, s.Journal())

	s.SetOnline(true)
	assert.NoError(t, s.Ping(ctx))
}

func TestFailureInjection(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.FailNextWrites(1, nil)
	_, err := s.InsertSession(ctx, model.ParkingSession{ClientRef: "r1", Plate: "AAA1"})
	assert.ErrorIs(t, err, ErrRejected)
	_, err = s.InsertSession(ctx, model.ParkingSession{ClientRef: "r1", Plate: "AAA1"})
	assert.NoError(t, err)

	boom := errors.New("check constraint")
	s.RejectPlate("bbb-2", boom)
	_, err = s.InsertWaitlistEntry(ctx, model.WaitlistEntry{ID: "w1", Plate: "BBB2"})
	assert.ErrorIs(t, err, boom)

	s.ClearRejections()
	_, err = s.InsertWaitlistEntry(ctx, model.WaitlistEntry{ID: "w1", Plate: "BBB2"})
	assert.NoError(t, err)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddVehicle(model.VehicleProfile{Plate: "abc-123", OwnerName: "Dana", OwnerPhone: "+15550100"})

	p, err := s.FindVehicleByPlate(ctx, "ABC123")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Dana", p.OwnerName)

	p, err = s.FindVehicleByPlate(ctx, "ZZZ999")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(WithClock(func() time.Time { return t0 }))

	var sessions, waitlist atomic.Int32
	subA, err := s.Subscribe(ctx, remote.TableSessions, func(c remote.Change) {
		assert.Equal(t, remote.TableSessions, c.Table)
		sessions.Add(1)
	})
	require.NoError(t, err)
	_, err = s.Subscribe(ctx, remote.TableWaitlist, func(remote.Change) { waitlist.Add(1) })
	require.NoError(t, err)

	_, err = s.InsertSession(ctx, model.ParkingSession{ClientRef: "r1", Plate: "AAA1"})
	require.NoError(t, err)
	require.NoError(t, s.UpdateSessionCheckOut(ctx, "r1", t0))
	_, err = s.InsertWaitlistEntry(ctx, model.WaitlistEntry{ID: "w1", Plate: "BBB2"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), sessions.Load())
	assert.Equal(t, int32(1), waitlist.Load())

	require.NoError(t, subA.Close())
	require.NoError(t, subA.Close())
	_, err = s.InsertSession(ctx, model.ParkingSession{ClientRef: "r2", Plate: "CCC3"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), sessions.Load())
}
