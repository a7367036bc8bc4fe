package engine

// Decision is the outcome of an admission request.
type Decision int

const (
	// DecisionConflict means the plate already has an active session.
	DecisionConflict Decision = iota
	// DecisionAdmit means a slot is free and the vehicle is checked in.
	DecisionAdmit
	// DecisionWaitlist means the facility is full and the vehicle joins the waitlist.
	DecisionWaitlist
)

func (d Decision) String() string {
	switch d {
	case DecisionConflict:
		return "conflict"
	case DecisionAdmit:
		return "admitted"
	case DecisionWaitlist:
		return "waitlisted"
	}
	return "unknown"
}

// AvailableSlots returns the free capacity in v, never negative.
func AvailableSlots(v View, maxCapacity int) int {
	free := maxCapacity - len(v.ActiveSessions)
	if free < 0 {
		return 0
	}
	return free
}

// Decide applies the admission rule to a normalized plate. Decisions are
// made against the local view; concurrent clients may briefly overfill the
// facility.
func Decide(v View, plate string, maxCapacity int) Decision {
	if _, ok := v.ActiveByPlate(plate); ok {
		return DecisionConflict
	}
	if AvailableSlots(v, maxCapacity) > 0 {
		return DecisionAdmit
	}
	return DecisionWaitlist
}
