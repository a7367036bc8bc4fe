package model

import "time"

// Vehicle holds the descriptive attributes captured at the gate.
type Vehicle struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Color string `json:"color,omitempty"`
}

// ParkingSession is one occupancy record.
//
// ID is assigned by the remote store and stays empty until the check-in is
// confirmed. ClientRef is the correlation id generated at admission time; it
// links the optimistic local session to its eventual remote row and doubles as
// the remote idempotency key.
type ParkingSession struct {
	ID         string     `json:"id,omitempty"`
	ClientRef  string     `json:"client_ref"`
	Plate      string     `json:"plate"`
	Vehicle    Vehicle    `json:"vehicle"`
	OwnerName  string     `json:"owner_name,omitempty"`
	OwnerPhone string     `json:"owner_phone,omitempty"`
	Attendant  string     `json:"attendant,omitempty"`
	CheckIn    time.Time  `json:"check_in"`
	CheckOut   *time.Time `json:"check_out,omitempty"`
}

// Active reports whether the session has no recorded check-out.
func (s ParkingSession) Active() bool {
	return s.CheckOut == nil
}

// Ref returns the identifier to use when addressing this session: the client
// correlation id, which is stable whether or not the check-in has been
// confirmed, else the remote id for sessions created elsewhere.
func (s ParkingSession) Ref() string {
	if s.ClientRef != "" {
		return s.ClientRef
	}
	return s.ID
}

// Matches reports whether ref addresses this session by remote id or client ref.
func (s ParkingSession) Matches(ref string) bool {
	if ref == "" {
		return false
	}
	return s.ID == ref || s.ClientRef == ref
}

// WaitlistEntry is a vehicle waiting for a free slot.
// ID is generated by the client so replays of the same entry stay idempotent.
type WaitlistEntry struct {
	ID         string    `json:"id"`
	Plate      string    `json:"plate"`
	Vehicle    Vehicle   `json:"vehicle"`
	OwnerPhone string    `json:"owner_phone,omitempty"`
	Attendant  string    `json:"attendant,omitempty"`
	EntryTime  time.Time `json:"entry_time"`
}

// VehicleProfile is a registry record for a known plate.
type VehicleProfile struct {
	Plate      string  `json:"plate"`
	Vehicle    Vehicle `json:"vehicle"`
	OwnerName  string  `json:"owner_name"`
	OwnerPhone string  `json:"owner_phone,omitempty"`
}

// Placeholder owner fields used when a promoted plate is not in the registry.
const (
	UnknownOwnerName = "Unknown owner"
)

// PlaceholderProfile returns the profile substituted for unregistered plates.
func PlaceholderProfile(plate string, v Vehicle) VehicleProfile {
	return VehicleProfile{
		Plate:     plate,
		Vehicle:   v,
		OwnerName: UnknownOwnerName,
	}
}

// Snapshot is the confirmed remote state at a point in time.
//
// Waitlist holds the head of the remote waitlist ordered by entry time;
// WaitlistCount is the total number of remote entries, which may exceed
// len(Waitlist) when the fetch was limited.
//
// TailHeld records, for entry ids looked up outside the fetched head,
// whether the remote store holds them. It is only filled when the head is
// incomplete.
type Snapshot struct {
	ActiveSessions []ParkingSession `json:"active_sessions"`
	Waitlist       []WaitlistEntry  `json:"waitlist"`
	WaitlistCount  int              `json:"waitlist_count"`
	TailHeld       map[string]bool  `json:"tail_held,omitempty"`
	FetchedAt      time.Time        `json:"fetched_at"`
}

// HeadComplete reports whether Waitlist holds every remote entry.
func (s Snapshot) HeadComplete() bool {
	return len(s.Waitlist) >= s.WaitlistCount
}
