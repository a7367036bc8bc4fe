package remote

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/lotkeep/internal/model"
)

var (
	// ErrUnavailable reports that the remote store could not be reached.
	ErrUnavailable = errors.New("remote store unavailable")

	// ErrNotFound reports that the addressed row does not exist.
	ErrNotFound = errors.New("remote row not found")
)

// Table names a remote table that can be subscribed to.
type Table string

const (
	TableSessions Table = "sessions"
	TableWaitlist Table = "waitlist"
)

// Change describes a row change observed on a subscribed table.
type Change struct {
	Table Table
	// Action is INSERT, UPDATE or DELETE.
	Action string
	// RowID is the primary key of the changed row, when known.
	RowID string
	At    time.Time
}

// Subscription is an active change feed. Close stops delivery; it is safe to
// call more than once.
type Subscription interface {
	Close() error
}

// Store is the remote relational store.
//
// Writes are idempotent so replaying a queued mutation after a lost
// acknowledgement does not duplicate it:
//   - InsertSession deduplicates on ClientRef and returns the stored row.
//   - UpdateSessionCheckOut keeps the first recorded check-out.
//   - InsertWaitlistEntry deduplicates on the client-generated entry id.
//   - DeleteWaitlistEntry treats a missing entry as success.
type Store interface {
	InsertSession(ctx context.Context, s model.ParkingSession) (model.ParkingSession, error)

	// UpdateSessionCheckOut records the check-out time of the session
	// addressed by ref, which may be the remote id or the client ref.
	// Returns ErrNotFound when no session matches.
	UpdateSessionCheckOut(ctx context.Context, ref string, at time.Time) error

	InsertWaitlistEntry(ctx context.Context, e model.WaitlistEntry) (model.WaitlistEntry, error)
	DeleteWaitlistEntry(ctx context.Context, id string) error

	SelectActiveSessions(ctx context.Context) ([]model.ParkingSession, error)

	// SelectWaitlist returns up to limit entries ordered by entry time then
	// id, and the total number of entries. limit <= 0 means no limit.
	SelectWaitlist(ctx context.Context, limit int) ([]model.WaitlistEntry, int, error)

	// SelectWaitlistIDs returns the subset of ids that have a stored
	// waitlist entry, in no particular order.
	SelectWaitlistIDs(ctx context.Context, ids []string) ([]string, error)

	// Subscribe invokes onChange for every change to table until the
	// subscription is closed or ctx is done. onChange must not block.
	Subscribe(ctx context.Context, table Table, onChange func(Change)) (Subscription, error)

	Ping(ctx context.Context) error
}

// Registry looks up vehicle profiles by plate.
type Registry interface {
	// FindVehicleByPlate returns nil, nil when the plate is not registered.
	FindVehicleByPlate(ctx context.Context, plate string) (*model.VehicleProfile, error)
}

// FetchSnapshot reads the confirmed remote state. waitlistLimit bounds the
// number of waitlist entries fetched; the total count is always exact.
// When the head is incomplete, each id in lookup that is not in the head is
// checked against the remote store and recorded in TailHeld.
func FetchSnapshot(ctx context.Context, s Store, waitlistLimit int, lookup []string, now time.Time) (model.Snapshot, error) {
	sessions, err := s.SelectActiveSessions(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	entries, total, err := s.SelectWaitlist(ctx, waitlistLimit)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap := model.Snapshot{
		ActiveSessions: sessions,
		Waitlist:       entries,
		WaitlistCount:  total,
		FetchedAt:      now,
	}
	if snap.HeadComplete() || len(lookup) == 0 {
		return snap, nil
	}

	inHead := make(map[string]bool, len(entries))
	for _, e := range entries {
		inHead[e.ID] = true
	}
	var tail []string
	for _, id := range lookup {
		if !inHead[id] {
			tail = append(tail, id)
		}
	}
	if len(tail) == 0 {
		return snap, nil
	}
	held, err := s.SelectWaitlistIDs(ctx, tail)
	if err != nil {
		return model.Snapshot{}, err
	}
	snap.TailHeld = make(map[string]bool, len(tail))
	for _, id := range tail {
		snap.TailHeld[id] = false
	}
	for _, id := range held {
		snap.TailHeld[id] = true
	}
	return snap, nil
}
