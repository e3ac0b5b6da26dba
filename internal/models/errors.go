package models

import (
	"context"
	"errors"
)

var (
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrAlreadyLocked          = errors.New("slot already locked")
	ErrAlreadyBooked          = errors.New("slot already booked")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("actor is not allowed to perform this action")
	ErrInvalidRequest         = errors.New("invalid request")
)

// Reason is the machine-readable failure code returned to consumers.
type Reason string

const (
	ReasonSlotUnavailable        Reason = "slot_unavailable"
	ReasonAlreadyLocked          Reason = "already_locked"
	ReasonAlreadyBooked          Reason = "already_booked"
	ReasonConcurrentModification Reason = "concurrent_modification"
	ReasonInvalidTransition      Reason = "invalid_transition"
	ReasonNotFound               Reason = "not_found"
	ReasonForbidden              Reason = "forbidden"
	ReasonInvalidRequest         Reason = "invalid_request"
	ReasonUnavailable            Reason = "unavailable"
)

// Kind groups reasons by how callers should react.
type Kind int

const (
	KindTransient Kind = iota
	KindContention
	KindIntegrity
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindContention:
		return "contention"
	case KindIntegrity:
		return "integrity"
	case KindInvalid:
		return "invalid"
	default:
		return "transient"
	}
}

var reasons = []struct {
	err    error
	reason Reason
	kind   Kind
}{
	{ErrSlotUnavailable, ReasonSlotUnavailable, KindContention},
	{ErrAlreadyLocked, ReasonAlreadyLocked, KindContention},
	{ErrAlreadyBooked, ReasonAlreadyBooked, KindContention},
	{ErrConcurrentModification, ReasonConcurrentModification, KindContention},
	{ErrInvalidTransition, ReasonInvalidTransition, KindIntegrity},
	{ErrNotFound, ReasonNotFound, KindIntegrity},
	{ErrForbidden, ReasonForbidden, KindIntegrity},
	{ErrInvalidRequest, ReasonInvalidRequest, KindInvalid},
}

// ReasonOf maps an error to its consumer-facing reason.
// Unknown errors are reported as unavailable.
func ReasonOf(err error) Reason {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonUnavailable
}

// KindOf classifies an error.
func KindOf(err error) Kind {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.kind
		}
	}
	return KindTransient
}

// IsContention reports whether err means "pick another slot".
func IsContention(err error) bool {
	return err != nil && KindOf(err) == KindContention
}

// IsTransient reports whether err may succeed on retry.
// Cancellation by the caller is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) == KindTransient
}

// UserMessage is the text shown to end users for an error.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindContention:
		return "This time is no longer available, please pick another slot."
	case KindInvalid:
		return err.Error()
	case KindIntegrity:
		if errors.Is(err, ErrNotFound) {
			return "Booking not found."
		}
		if errors.Is(err, ErrForbidden) {
			return "You are not allowed to do that."
		}
		return "Something went wrong, please try again later."
	default:
		return "Service is temporarily unavailable, please retry."
	}
}
