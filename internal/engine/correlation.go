package engine

import (
	"github.com/google/uuid"
)

// CorrelationGenerator produces correlation ids for new sessions and
// waitlist entries.
type CorrelationGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 correlation ids.
//
// The id becomes the session's ClientRef, which the remote store uses to
// deduplicate replayed check-ins, so it must be unique across clients.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7. Panics if the random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
