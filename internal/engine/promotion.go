package engine

import (
	"time"

	"github.com/roach88/lotkeep/internal/model"
)

// PromotionState is the state of the waitlist promotion cycle.
type PromotionState int

const (
	// PromotionIdle means no offer is pending.
	PromotionIdle PromotionState = iota
	// PromotionOffered means a freed slot is offered to a waitlisted vehicle.
	PromotionOffered
	// PromotionResolving means the attendant's answer is being applied.
	PromotionResolving
)

func (s PromotionState) String() string {
	switch s {
	case PromotionIdle:
		return "idle"
	case PromotionOffered:
		return "candidate_offered"
	case PromotionResolving:
		return "resolving"
	}
	return "unknown"
}

// Offer is a freed slot offered to the longest-waiting vehicle.
type Offer struct {
	Entry model.WaitlistEntry `json:"entry"`

	// Profile is the registry record for the entry's plate, if one was found.
	Profile *model.VehicleProfile `json:"profile,omitempty"`

	// Departure is the session whose check-out freed the slot. Chained
	// offers after a rejection keep the original departure.
	Departure string    `json:"departure"`
	OfferedAt time.Time `json:"offered_at"`
}

// Phone returns the number to contact about the offer: the registry owner's
// phone, else the phone captured on the waitlist entry.
func (o Offer) Phone() string {
	if o.Profile != nil && o.Profile.OwnerPhone != "" {
		return o.Profile.OwnerPhone
	}
	return o.Entry.OwnerPhone
}

// Promoter is the promotion state machine. It holds no I/O; the Facility
// drives it and performs the queue writes around each transition.
//
// Not safe for concurrent use. The Facility serializes access.
type Promoter struct {
	state PromotionState
	offer Offer

	// backlog holds departures that freed a slot while another offer was
	// pending, oldest first.
	backlog []string
}

// NewPromoter returns a Promoter in the idle state.
func NewPromoter() *Promoter {
	return &Promoter{}
}

// State returns the current state.
func (p *Promoter) State() PromotionState {
	return p.state
}

// Current returns the pending offer, if any.
func (p *Promoter) Current() (Offer, bool) {
	if p.state == PromotionIdle {
		return Offer{}, false
	}
	return p.offer, true
}

// OnDeparture starts a promotion cycle for a freed slot. It reports true
// when a new offer was made. A pending offer is kept as is and the departure
// waits in the backlog until that offer is resolved.
func (p *Promoter) OnDeparture(v View, departure string, at time.Time) (Offer, bool) {
	if p.state != PromotionIdle {
		p.backlog = append(p.backlog, departure)
		return Offer{}, false
	}
	entry, ok := Candidate(v)
	if !ok {
		return Offer{}, false
	}
	p.offer = Offer{Entry: entry, Departure: departure, OfferedAt: at}
	p.state = PromotionOffered
	return p.offer, true
}

// SetProfile attaches a registry profile to the pending offer.
func (p *Promoter) SetProfile(profile *model.VehicleProfile) {
	if p.state != PromotionIdle {
		p.offer.Profile = profile
	}
}

// Begin moves an offered candidate into resolution.
func (p *Promoter) Begin() (Offer, error) {
	if p.state != PromotionOffered {
		return Offer{}, ErrNoOffer
	}
	p.state = PromotionResolving
	return p.offer, nil
}

// Abort returns a resolving offer to the offered state.
func (p *Promoter) Abort() {
	if p.state == PromotionResolving {
		p.state = PromotionOffered
	}
}

// Complete ends the cycle.
func (p *Promoter) Complete() {
	p.state = PromotionIdle
	p.offer = Offer{}
}

// Backlog returns the number of departures still waiting for a cycle.
func (p *Promoter) Backlog() int {
	return len(p.backlog)
}

// Resume starts a cycle for the oldest backlogged departure once the
// promoter is idle. free is the number of open slots in v. With no open slot
// or no candidate the backlog is dropped, since nobody is left to offer a
// slot to.
func (p *Promoter) Resume(v View, free int, at time.Time) (Offer, bool) {
	if p.state != PromotionIdle || len(p.backlog) == 0 {
		return Offer{}, false
	}
	entry, ok := Candidate(v)
	if !ok || free <= 0 {
		p.backlog = nil
		return Offer{}, false
	}
	departure := p.backlog[0]
	p.backlog = p.backlog[1:]
	p.offer = Offer{Entry: entry, Departure: departure, OfferedAt: at}
	p.state = PromotionOffered
	return p.offer, true
}

// Next offers the slot to the next candidate after a rejection, keeping the
// original departure. Without a candidate the cycle ends and the backlog is
// dropped.
func (p *Promoter) Next(v View, at time.Time) (Offer, bool) {
	departure := p.offer.Departure
	entry, ok := Candidate(v)
	if !ok {
		p.Complete()
		p.backlog = nil
		return Offer{}, false
	}
	p.offer = Offer{Entry: entry, Departure: departure, OfferedAt: at}
	p.state = PromotionOffered
	return p.offer, true
}

// Candidate returns the longest-waiting entry in v whose plate is not
// already parked.
func Candidate(v View) (model.WaitlistEntry, bool) {
	for _, e := range v.Waitlist {
		if _, parked := v.ActiveByPlate(e.Plate); parked {
			continue
		}
		return e, true
	}
	return model.WaitlistEntry{}, false
}
