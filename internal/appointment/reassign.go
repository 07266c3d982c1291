package appointment

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/notify"
)

// Reassign moves an active appointment to another expert at the same date and
// time. The status is kept: an approved appointment stays approved under the
// new expert. The old expert, the new expert and the customer are notified.
func (s *Service) Reassign(ctx context.Context, id, newExpertID uuid.UUID, reason string, actor Actor) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, wrapStore("load appointment", err)
	}
	if current.Status.Terminal() {
		return nil, &Error{
			Kind:    KindInvalidTransition,
			Code:    "reassign_not_allowed",
			Message: "cannot reassign a " + string(current.Status) + " appointment",
		}
	}
	if current.ExpertID == newExpertID {
		return nil, ErrSameExpert
	}

	newExpert, err := s.repo.GetExpert(ctx, newExpertID)
	if err != nil {
		return nil, wrapStore("load new expert", err)
	}

	open, err := s.index.IsOpen(ctx, newExpert.ID, current.Date, current.Time)
	if err != nil {
		return nil, internalError("load availability", err)
	}
	if !open {
		return nil, validationError(ErrSlotUnavailable.Code,
			"%s is not available on %s", newExpert.Name, current.Slot())
	}

	if err := s.ensureSlotFree(ctx, newExpert.ID, current.Date, current.Time); err != nil {
		return nil, err
	}

	updated, err := s.repo.Reassign(ctx, id, current.ExpertID, newExpert.ID, current.Status, reason, s.now())
	if err != nil {
		return nil, wrapStore("reassign appointment", err)
	}

	s.log(ctx).Info("appointment reassigned",
		"appointment_id", id,
		"from_expert", current.ExpertID,
		"to_expert", newExpert.ID,
		"status", updated.Status,
	)

	s.recordActivity(ctx, actor, ActionReassigned, id, map[string]any{
		"from_expert_id": current.ExpertID.String(),
		"to_expert_id":   newExpert.ID.String(),
		"reason":         reason,
		"status":         string(updated.Status),
	})

	oldExpert := s.expertFor(ctx, current.ExpertID)
	view := s.view(updated, *newExpert)

	s.send(ctx, notify.Event{
		Kind:           notify.KindReassignedAway,
		To:             expertRecipient(oldExpert),
		Appointment:    view,
		Reason:         reason,
		PreviousExpert: oldExpert.Name,
	})
	s.send(ctx, notify.Event{
		Kind:           notify.KindReassignedTo,
		To:             expertRecipient(*newExpert),
		Appointment:    view,
		Reason:         reason,
		PreviousExpert: oldExpert.Name,
	})
	s.send(ctx, notify.Event{
		Kind:           notify.KindReassignedCustomer,
		To:             customerRecipient(updated),
		Appointment:    view,
		PreviousExpert: oldExpert.Name,
	})

	return updated, nil
}
