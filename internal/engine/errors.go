package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/lotkeep/internal/remote"
)

// AdmissionError reports a foreground request the facility refused.
//
// Admission errors are synchronous: nothing is queued when one is returned.
// The codes cover:
//   - Validation: malformed plate, plate absent from the registry
//   - Conflict: plate already parked, session not active
type AdmissionError struct {
	// Code identifies the error category.
	Code AdmissionErrorCode

	// Message is a human-readable description.
	Message string

	// Plate is the normalized plate involved, when known.
	Plate string

	// Ref is the session reference involved, when known.
	Ref string
}

// AdmissionErrorCode categorizes admission errors.
type AdmissionErrorCode string

const (
	// ErrCodeAlreadyCheckedIn indicates the plate already has an active session.
	ErrCodeAlreadyCheckedIn AdmissionErrorCode = "ALREADY_CHECKED_IN"

	// ErrCodeInvalidPlate indicates an empty or malformed plate.
	ErrCodeInvalidPlate AdmissionErrorCode = "INVALID_PLATE"

	// ErrCodePlateNotRegistered indicates the registry does not know the plate.
	ErrCodePlateNotRegistered AdmissionErrorCode = "PLATE_NOT_REGISTERED"

	// ErrCodeSessionNotActive indicates a check-out for a session that is not active.
	ErrCodeSessionNotActive AdmissionErrorCode = "SESSION_NOT_ACTIVE"
)

var (
	// ErrLocalPersistence wraps failures of the local durable queue or
	// key/value store.
	ErrLocalPersistence = errors.New("local persistence failure")

	// ErrNoOffer is returned when accepting or rejecting without a pending
	// promotion offer.
	ErrNoOffer = errors.New("no promotion offer pending")
)

// Error implements the error interface.
func (e *AdmissionError) Error() string {
	switch {
	case e.Plate != "":
		return fmt.Sprintf("%s: %s (plate=%s)", e.Code, e.Message, e.Plate)
	case e.Ref != "":
		return fmt.Sprintf("%s: %s (ref=%s)", e.Code, e.Message, e.Ref)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func admissionCode(err error) (AdmissionErrorCode, bool) {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}

// IsAlreadyCheckedIn returns true if err is a duplicate-plate conflict.
func IsAlreadyCheckedIn(err error) bool {
	code, ok := admissionCode(err)
	return ok && code == ErrCodeAlreadyCheckedIn
}

// IsSessionNotActive returns true if err reports a missing active session.
func IsSessionNotActive(err error) bool {
	code, ok := admissionCode(err)
	return ok && code == ErrCodeSessionNotActive
}

// IsValidation returns true for malformed or unregistered plates.
func IsValidation(err error) bool {
	code, ok := admissionCode(err)
	return ok && (code == ErrCodeInvalidPlate || code == ErrCodePlateNotRegistered)
}

// ErrorKind returns a stable label for err, suitable for logs and API
// responses.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	if code, ok := admissionCode(err); ok {
		switch code {
		case ErrCodeAlreadyCheckedIn:
			return "already_checked_in"
		case ErrCodeInvalidPlate:
			return "invalid_plate"
		case ErrCodePlateNotRegistered:
			return "plate_not_registered"
		case ErrCodeSessionNotActive:
			return "session_not_active"
		}
	}
	switch {
	case errors.Is(err, ErrNoOffer):
		return "no_offer"
	case errors.Is(err, ErrLocalPersistence):
		return "local_persistence"
	case errors.Is(err, remote.ErrUnavailable):
		return "remote_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}

func newInvalidPlate(raw string) *AdmissionError {
	return &AdmissionError{
		Code:    ErrCodeInvalidPlate,
		Message: fmt.Sprintf("plate %q must be 2 to 10 letters or digits", raw),
	}
}

func newPlateNotRegistered(plate string) *AdmissionError {
	return &AdmissionError{
		Code:    ErrCodePlateNotRegistered,
		Message: "plate is not in the vehicle registry",
		Plate:   plate,
	}
}

func newAlreadyCheckedIn(plate string) *AdmissionError {
	return &AdmissionError{
		Code:    ErrCodeAlreadyCheckedIn,
		Message: "vehicle already has an active session",
		Plate:   plate,
	}
}

func newSessionNotActive(ref string) *AdmissionError {
	return &AdmissionError{
		Code:    ErrCodeSessionNotActive,
		Message: "no active session matches",
		Ref:     ref,
	}
}

func localPersistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrLocalPersistence, err)
}
