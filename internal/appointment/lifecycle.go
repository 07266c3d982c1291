package appointment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/notify"
)

// Approve moves a pending appointment to approved and sends the customer a
// confirmation with a calendar invite.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	updated, from, err := s.transition(ctx, id, StatusApproved, "")
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, actor, ActionApproved, updated.ID, map[string]any{
		"from": string(from),
	})

	expert := s.expertFor(ctx, updated.ExpertID)
	s.send(ctx, notify.Event{
		Kind:        notify.KindApproved,
		To:          customerRecipient(updated),
		Appointment: s.view(updated, expert),
		Calendar:    true,
	})
	return updated, nil
}

// Cancel moves a pending or approved appointment to cancelled. A reason is
// required.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	updated, from, err := s.transition(ctx, id, StatusCancelled, reason)
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, actor, ActionCancelled, updated.ID, map[string]any{
		"from":   string(from),
		"reason": reason,
	})

	expert := s.expertFor(ctx, updated.ExpertID)
	s.send(ctx, notify.Event{
		Kind:        notify.KindCancelled,
		To:          customerRecipient(updated),
		Appointment: s.view(updated, expert),
		Reason:      reason,
	})
	return updated, nil
}

// Complete closes an approved appointment and invites the customer to the
// satisfaction survey.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	updated, from, err := s.transition(ctx, id, StatusCompleted, "")
	if err != nil {
		return nil, err
	}

	s.recordActivity(ctx, actor, ActionCompleted, updated.ID, map[string]any{
		"from": string(from),
	})

	expert := s.expertFor(ctx, updated.ExpertID)
	s.send(ctx, notify.Event{
		Kind:        notify.KindCompleted,
		To:          customerRecipient(updated),
		Appointment: s.view(updated, expert),
	})
	return updated, nil
}

// transition applies one edge of the lifecycle as a compare-and-set on the
// current status. It returns the updated row and the status it left.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, reason string) (*Appointment, Status, error) {
	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, "", wrapStore("load appointment", err)
	}

	from := current.Status
	if !from.CanTransitionTo(to) {
		return nil, from, transitionError(from, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, from, to, reason, s.now())
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			s.log(ctx).Warn("appointment status changed concurrently",
				"appointment_id", id, "expected", from, "target", to)
		}
		return nil, from, wrapStore("update appointment status", err)
	}

	s.metrics.RecordTransition(string(from), string(to))
	s.log(ctx).Info("appointment status changed",
		"appointment_id", id, "from", from, "to", to)
	return updated, from, nil
}

// Delete hard deletes a cancelled appointment.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor Actor) error {
	current, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return wrapStore("load appointment", err)
	}
	if current.Status != StatusCancelled {
		return ErrNotCancelled
	}

	if err := s.repo.DeleteCancelled(ctx, id); err != nil {
		return wrapStore("delete appointment", err)
	}

	s.recordActivity(ctx, actor, ActionDeleted, id, map[string]any{
		"ticket_no": current.TicketNo,
		"slot":      current.Slot(),
	})
	return nil
}

// PurgeCancelled hard deletes every cancelled appointment.
func (s *Service) PurgeCancelled(ctx context.Context, actor Actor) (int, error) {
	n, err := s.repo.PurgeCancelled(ctx)
	if err != nil {
		return 0, wrapStore("purge cancelled appointments", err)
	}

	s.log(ctx).Info("purged cancelled appointments", "count", n)
	s.recordActivity(ctx, actor, ActionPurged, uuid.Nil, map[string]any{
		"count": n,
	})
	return n, nil
}

// SendReminder notifies the customer of an approved appointment and records
// that the reminder went out.
func (s *Service) SendReminder(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, wrapStore("load appointment", err)
	}
	if appt.Status != StatusApproved {
		return nil, &Error{
			Kind:    KindInvalidTransition,
			Code:    "reminder_not_allowed",
			Message: "reminders are only sent for approved appointments, status is " + string(appt.Status),
		}
	}
	if appt.ReminderSentAt != nil {
		return nil, ErrReminderSent
	}
	if err := s.remind(ctx, appt, actor); err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, ErrReminderSent
		}
		return nil, err
	}
	return appt, nil
}

// DispatchReminders sends a reminder for every approved appointment starting
// within window from now that has not been reminded yet. It returns the
// number of reminders sent.
func (s *Service) DispatchReminders(ctx context.Context, window time.Duration) (int, error) {
	now := s.now()
	until := now.Add(window)

	due, err := s.repo.ListApprovedWithoutReminder(ctx,
		availability.DateOf(now.In(s.cfg.Location)),
		availability.DateOf(until.In(s.cfg.Location)),
	)
	if err != nil {
		return 0, wrapStore("list reminder candidates", err)
	}

	sent := 0
	for i := range due {
		appt := &due[i]
		starts := appt.StartsAt(s.cfg.Location)
		if starts.Before(now) || starts.After(until) {
			continue
		}
		err := s.remind(ctx, appt, SystemActor)
		if errors.Is(err, ErrStaleStatus) {
			s.log(ctx).Debug("reminder skipped, appointment changed", "appointment_id", appt.ID)
			continue
		}
		if err != nil {
			s.log(ctx).Warn("failed to send reminder", "appointment_id", appt.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *Service) remind(ctx context.Context, appt *Appointment, actor Actor) error {
	now := s.now()
	if err := s.repo.MarkReminderSent(ctx, appt.ID, now); err != nil {
		return wrapStore("mark reminder sent", err)
	}
	appt.ReminderSentAt = &now

	s.recordActivity(ctx, actor, ActionReminderSent, appt.ID, map[string]any{
		"slot": appt.Slot(),
	})

	expert := s.expertFor(ctx, appt.ExpertID)
	s.send(ctx, notify.Event{
		Kind:        notify.KindReminder,
		To:          customerRecipient(appt),
		Appointment: s.view(appt, expert),
		Calendar:    true,
	})
	return nil
}
