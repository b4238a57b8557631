package core

import (
	"errors"
	"fmt"

	"movt.app/backend/internal/store"
)

type Kind string

const (
	KindMissingField          Kind = "MISSING_FIELD"
	KindInvalidInput          Kind = "INVALID_INPUT"
	KindNotFound              Kind = "NOT_FOUND"
	KindForbidden             Kind = "FORBIDDEN"
	KindNoAvailabilityThisDay Kind = "NO_AVAILABILITY_THIS_DAY"
	KindOutsideAvailability   Kind = "OUTSIDE_AVAILABILITY"
	KindSlotConflict          Kind = "SLOT_CONFLICT"
	KindNotEligible           Kind = "NOT_ELIGIBLE"
	KindAlreadyRated          Kind = "ALREADY_RATED"
	KindIdentityNotFound      Kind = "IDENTITY_NOT_FOUND"
	KindEmptyMessage          Kind = "EMPTY_MESSAGE"
	KindUpstream              Kind = "UPSTREAM_UNAVAILABLE"
	KindInternal              Kind = "INTERNAL"
)

// Error is the typed failure returned by the booking and messaging services.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrSlotConflict)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrMissingField          = &Error{Kind: KindMissingField, Message: "missing required field"}
	ErrInvalidInput          = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden             = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrNoAvailabilityThisDay = &Error{Kind: KindNoAvailabilityThisDay, Message: "trainer is not available on this day"}
	ErrOutsideAvailability   = &Error{Kind: KindOutsideAvailability, Message: "requested time is outside the trainer's availability"}
	ErrSlotConflict          = &Error{Kind: KindSlotConflict, Message: "requested time conflicts with an existing appointment"}
	ErrNotEligible           = &Error{Kind: KindNotEligible, Message: "appointment is not eligible for rating"}
	ErrAlreadyRated          = &Error{Kind: KindAlreadyRated, Message: "appointment was already rated"}
	ErrIdentityNotFound      = &Error{Kind: KindIdentityNotFound, Message: "user identity could not be resolved"}
	ErrEmptyMessage          = &Error{Kind: KindEmptyMessage, Message: "message needs text or an image"}
	ErrUpstream              = &Error{Kind: KindUpstream, Message: "service temporarily unavailable"}
	ErrInternal              = &Error{Kind: KindInternal, Message: "internal error"}
)

func newError(kind Kind, msg string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

func missingField(names ...string) *Error {
	return newError(KindMissingField, fmt.Sprintf("missing required fields: %v", names), map[string]any{"fields": names})
}

func invalidInput(format string, args ...any) *Error {
	return newError(KindInvalidInput, fmt.Sprintf(format, args...), nil)
}

// storeError classifies a store failure as Upstream when the database is
// unreachable and Internal otherwise.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if store.IsUnavailable(err) {
		return &Error{Kind: KindUpstream, Message: ErrUpstream.Message, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return &Error{Kind: KindInternal, Message: op, Err: err}
}
