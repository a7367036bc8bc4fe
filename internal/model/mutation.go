package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Op tags the kind of a pending mutation.
type Op string

const (
	OpCheckIn        Op = "check_in"
	OpCheckOut       Op = "check_out"
	OpWaitlistAdd    Op = "waitlist_add"
	OpWaitlistRemove Op = "waitlist_remove"
)

// Valid reports whether op is one of the known mutation tags.
func (op Op) Valid() bool {
	switch op {
	case OpCheckIn, OpCheckOut, OpWaitlistAdd, OpWaitlistRemove:
		return true
	}
	return false
}

// Mutation is a write destined for the remote store.
//
// The set of implementations is closed: CheckIn, CheckOut, WaitlistAdd and
// WaitlistRemove. Consumers dispatch with a type switch.
type Mutation interface {
	Op() Op
	// Plate is the normalized plate the mutation concerns. Writes for one
	// plate must reach the remote store in the order they were made.
	Plate() string
	isMutation()
}

// CheckIn creates an active session. Session.ClientRef carries the
// correlation id.
type CheckIn struct {
	Session ParkingSession `json:"session"`
}

// CheckOut closes the session addressed by SessionRef (remote id or client ref).
type CheckOut struct {
	SessionRef string    `json:"session_ref"`
	PlateNo    string    `json:"plate"`
	At         time.Time `json:"at"`
}

// WaitlistAdd appends an entry to the remote waitlist.
type WaitlistAdd struct {
	Entry WaitlistEntry `json:"entry"`
}

// WaitlistRemove deletes a waitlist entry by id.
type WaitlistRemove struct {
	EntryID string `json:"entry_id"`
	PlateNo string `json:"plate"`
}

func (CheckIn) Op() Op        { return OpCheckIn }
func (CheckOut) Op() Op       { return OpCheckOut }
func (WaitlistAdd) Op() Op    { return OpWaitlistAdd }
func (WaitlistRemove) Op() Op { return OpWaitlistRemove }

func (m CheckIn) Plate() string        { return m.Session.Plate }
func (m CheckOut) Plate() string       { return m.PlateNo }
func (m WaitlistAdd) Plate() string    { return m.Entry.Plate }
func (m WaitlistRemove) Plate() string { return m.PlateNo }

func (CheckIn) isMutation()        {}
func (CheckOut) isMutation()       {}
func (WaitlistAdd) isMutation()    {}
func (WaitlistRemove) isMutation() {}

// EncodeMutation serializes the payload of m. The op tag is stored separately.
func EncodeMutation(m Mutation) (Op, []byte, error) {
	if m == nil {
		return "", nil, fmt.Errorf("encode mutation: nil mutation")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", nil, fmt.Errorf("encode mutation %s: %w", m.Op(), err)
	}
	return m.Op(), data, nil
}

// DecodeMutation rebuilds a mutation from its op tag and payload.
func DecodeMutation(op Op, payload []byte) (Mutation, error) {
	var (
		m   Mutation
		err error
	)
	switch op {
	case OpCheckIn:
		var v CheckIn
		err = json.Unmarshal(payload, &v)
		m = v
	case OpCheckOut:
		var v CheckOut
		err = json.Unmarshal(payload, &v)
		m = v
	case OpWaitlistAdd:
		var v WaitlistAdd
		err = json.Unmarshal(payload, &v)
		m = v
	case OpWaitlistRemove:
		var v WaitlistRemove
		err = json.Unmarshal(payload, &v)
		m = v
	default:
		return nil, fmt.Errorf("decode mutation: unknown op %q", op)
	}
	if err != nil {
		return nil, fmt.Errorf("decode mutation %s: %w", op, err)
	}
	return m, nil
}

// QueueItem is a durable record of one mutation not yet confirmed by the
// remote store.
type QueueItem struct {
	ID            int64     `json:"id"`
	Mutation      Mutation  `json:"-"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	EnqueuedAt    time.Time `json:"enqueued_at"`

	// Retry bookkeeping, maintained by the sync engine.
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Op returns the tag of the queued mutation.
func (q QueueItem) Op() Op {
	if q.Mutation == nil {
		return ""
	}
	return q.Mutation.Op()
}

// MarshalJSON renders the item with its op tag and payload inline.
func (q QueueItem) MarshalJSON() ([]byte, error) {
	type alias QueueItem
	return json.Marshal(struct {
		alias
		Op       Op       `json:"op"`
		Mutation Mutation `json:"mutation"`
	}{alias: alias(q), Op: q.Op(), Mutation: q.Mutation})
}

// DeadLetter is a queue item removed from replay after exhausting its retry budget.
type DeadLetter struct {
	Item     QueueItem `json:"item"`
	Reason   string    `json:"reason"`
	ParkedAt time.Time `json:"parked_at"`
}
