package appointment

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine readable class of an engine error.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindAlreadyResolved   Kind = "already_resolved"
	KindInternal          Kind = "internal"
)

// Error carries a Kind, a specific Code and a human readable message.
// errors.Is matches on Code, or on Kind alone when the target has no Code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Kind-only sentinels, for errors.Is checks by class.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrAlreadyResolved   = &Error{Kind: KindAlreadyResolved}
	ErrInternal          = &Error{Kind: KindInternal}
)

var (
	ErrExpertNotFound      = &Error{Kind: KindNotFound, Code: "expert_not_found", Message: "expert not found"}
	ErrAppointmentNotFound = &Error{Kind: KindNotFound, Code: "appointment_not_found", Message: "appointment not found"}
	ErrTokenNotFound       = &Error{Kind: KindNotFound, Code: "reschedule_token_not_found", Message: "reschedule request not found"}

	ErrInvalidTicket     = &Error{Kind: KindValidation, Code: "invalid_ticket_no", Message: "ticket number must match INC0 followed by 6 digits"}
	ErrSlotUnavailable   = &Error{Kind: KindValidation, Code: "slot_unavailable", Message: "expert is not available at the requested time"}
	ErrLeadTime          = &Error{Kind: KindValidation, Code: "lead_time", Message: "appointment is too close to the current time"}
	ErrReasonRequired    = &Error{Kind: KindValidation, Code: "reason_required", Message: "a reason is required"}
	ErrSameExpert        = &Error{Kind: KindValidation, Code: "same_expert", Message: "appointment is already assigned to this expert"}
	ErrProposalInPast    = &Error{Kind: KindValidation, Code: "proposal_in_past", Message: "proposed time must be in the future"}
	ErrNotCancelled      = &Error{Kind: KindInvalidTransition, Code: "not_cancelled", Message: "only cancelled appointments can be deleted"}
	ErrSlotTaken         = &Error{Kind: KindConflict, Code: "slot_taken", Message: "the slot already has an active appointment"}
	ErrCustomerHasActive = &Error{Kind: KindConflict, Code: "customer_has_active_appointment", Message: "customer already has an active appointment"}
	ErrTokenResolved     = &Error{Kind: KindAlreadyResolved, Code: "reschedule_already_resolved", Message: "reschedule request was already resolved"}

	ErrReminderSent      = &Error{Kind: KindInvalidTransition, Code: "reminder_already_sent", Message: "a reminder was already sent or the appointment is no longer approved"}

	// ErrStaleStatus is returned by repositories when a compare-and-set on
	// status found the row in a different state.
	ErrStaleStatus = &Error{Kind: KindInvalidTransition, Code: "stale_status", Message: "appointment status changed concurrently"}
)

func validationError(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func transitionError(from, to Status) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Code:    "invalid_transition",
		Message: fmt.Sprintf("cannot move appointment from %s to %s", from, to),
	}
}

func internalError(op string, err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal_error", Message: op, Err: err}
}

// KindOf classifies any error, defaulting to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the specific code of err, or "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}
