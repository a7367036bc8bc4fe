package engine

import (
	"sort"
	"time"

	"github.com/roach88/lotkeep/internal/model"
)

// View is the reconciled state shown to the attendant: confirmed remote
// state with every pending local mutation applied on top. It is recomputed
// from scratch on every refresh and never persisted.
type View struct {
	ActiveSessions []model.ParkingSession `json:"active_sessions"`
	WaitlistCount  int                    `json:"waitlist_count"`

	// Waitlist is the merged waitlist head ordered by entry time, used to
	// pick promotion candidates.
	Waitlist []model.WaitlistEntry `json:"waitlist"`

	// Pending is the number of queue items not yet confirmed remotely.
	Pending int `json:"pending"`

	SnapshotAt time.Time `json:"snapshot_at"`
}

// Reconcile merges a remote snapshot with the pending queue items.
//
// Items are applied in queue order:
//   - CheckIn adds a synthetic active session unless the remote already
//     holds its ClientRef or the plate is already active.
//   - CheckOut removes the session it addresses by remote id or client ref.
//   - WaitlistAdd and WaitlistRemove adjust the merged waitlist and count.
//     An add the remote already holds, in the head or in TailHeld, is not
//     counted again. A remove counts only when the entry is still held
//     remotely or pending locally; when its presence is unknown because
//     the head was truncated and the id was not looked up, it counts.
//
// The waitlist count is floored at zero. Reconcile does not modify its
// inputs.
func Reconcile(snap model.Snapshot, items []model.QueueItem) View {
	active := make([]model.ParkingSession, 0, len(snap.ActiveSessions)+len(items))
	for _, s := range snap.ActiveSessions {
		if s.Active() {
			active = append(active, s)
		}
	}

	waitlist := make([]model.WaitlistEntry, len(snap.Waitlist), len(snap.Waitlist)+len(items))
	copy(waitlist, snap.Waitlist)
	count := snap.WaitlistCount
	headComplete := snap.HeadComplete()

	for _, item := range items {
		switch m := item.Mutation.(type) {
		case model.CheckIn:
			if indexSession(active, func(s model.ParkingSession) bool {
				return (m.Session.ClientRef != "" && s.ClientRef == m.Session.ClientRef) || s.Plate == m.Session.Plate
			}) >= 0 {
				continue
			}
			sess := m.Session
			sess.CheckOut = nil
			active = append(active, sess)

		case model.CheckOut:
			active = removeSessions(active, m.SessionRef)

		case model.WaitlistAdd:
			if indexEntry(waitlist, m.Entry.ID) >= 0 || snap.TailHeld[m.Entry.ID] {
				continue
			}
			waitlist = append(waitlist, m.Entry)
			count++

		case model.WaitlistRemove:
			if i := indexEntry(waitlist, m.EntryID); i >= 0 {
				waitlist = append(waitlist[:i], waitlist[i+1:]...)
				count--
				continue
			}
			held, looked := snap.TailHeld[m.EntryID]
			switch {
			case looked && held:
				count--
			case !looked && !headComplete:
				count--
			}
		}
	}

	if count < 0 {
		count = 0
	}
	sort.SliceStable(waitlist, func(i, j int) bool {
		return waitlist[i].EntryTime.Before(waitlist[j].EntryTime)
	})

	return View{
		ActiveSessions: active,
		WaitlistCount:  count,
		Waitlist:       waitlist,
		Pending:        len(items),
		SnapshotAt:     snap.FetchedAt,
	}
}

// ActiveByPlate returns the active session for a normalized plate.
func (v View) ActiveByPlate(plate string) (model.ParkingSession, bool) {
	if i := indexSession(v.ActiveSessions, func(s model.ParkingSession) bool { return s.Plate == plate }); i >= 0 {
		return v.ActiveSessions[i], true
	}
	return model.ParkingSession{}, false
}

// FindSession returns the active session addressed by remote id or client ref.
func (v View) FindSession(ref string) (model.ParkingSession, bool) {
	if i := indexSession(v.ActiveSessions, func(s model.ParkingSession) bool { return s.Matches(ref) }); i >= 0 {
		return v.ActiveSessions[i], true
	}
	return model.ParkingSession{}, false
}

func indexSession(sessions []model.ParkingSession, match func(model.ParkingSession) bool) int {
	for i, s := range sessions {
		if match(s) {
			return i
		}
	}
	return -1
}

func removeSessions(sessions []model.ParkingSession, ref string) []model.ParkingSession {
	out := sessions[:0]
	for _, s := range sessions {
		if !s.Matches(ref) {
			out = append(out, s)
		}
	}
	return out
}

func indexEntry(entries []model.WaitlistEntry, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
