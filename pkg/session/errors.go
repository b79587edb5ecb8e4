package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for storage-level conditions. Callers match with errors.Is.
var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRunNotFound is returned when a run doesn't exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrDuplicateEvent is returned when an event id is appended twice to the
	// same session. The stored event is never overwritten.
	ErrDuplicateEvent = errors.New("duplicate event id")

	// ErrStoreClosed is returned by every operation on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidStatus is returned for a status outside the vocabulary.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidEventType is returned for an event type outside the vocabulary.
	ErrInvalidEventType = errors.New("invalid event type")

	// ErrInvalidCapabilityType is returned for a capability type outside the
	// vocabulary.
	ErrInvalidCapabilityType = errors.New("invalid capability type")

	// ErrDuplicateCapability is returned when a manifest declares the same
	// (type, name) pair twice.
	ErrDuplicateCapability = errors.New("duplicate capability")
)

// ValidationError describes a rejected field during construction or decoding.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// MissingCapabilityError reports the first required capability type a
// provider cannot cover during negotiation.
type MissingCapabilityError struct {
	Type CapabilityType
}

func (e *MissingCapabilityError) Error() string {
	return fmt.Sprintf("required capability not available: %s", e.Type)
}
