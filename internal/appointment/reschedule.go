package appointment

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/notify"
)

const tokenBytes = 32

// NewRescheduleToken returns an unguessable URL-safe token.
func NewRescheduleToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type RescheduleProposal struct {
	AppointmentID uuid.UUID
	Date          string
	Time          string
	Reason        string
	Actor         Actor
}

// ProposeReschedule records a new date and time for an approved appointment
// and mails the customer approve and reject links. A pending proposal for
// the same appointment is superseded and its token stops working.
func (s *Service) ProposeReschedule(ctx context.Context, p RescheduleProposal) (*RescheduleRequest, error) {
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	date, err := availability.ParseDate(p.Date)
	if err != nil {
		return nil, validationError("invalid_date", "date %q must be YYYY-MM-DD", p.Date)
	}
	tod, err := availability.ParseTimeOfDay(p.Time)
	if err != nil {
		return nil, validationError("invalid_time", "time %q must be HH:MM", p.Time)
	}

	appt, err := s.repo.GetAppointment(ctx, p.AppointmentID)
	if err != nil {
		return nil, wrapStore("load appointment", err)
	}
	if appt.Status != StatusApproved {
		return nil, &Error{
			Kind:    KindInvalidTransition,
			Code:    "reschedule_not_allowed",
			Message: "only approved appointments can be rescheduled, status is " + string(appt.Status),
		}
	}

	now := s.now()
	proposedAt := date.At(tod, s.cfg.Location)
	if !proposedAt.After(now) {
		return nil, ErrProposalInPast
	}
	if date == appt.Date && tod == appt.Time {
		return nil, validationError("same_slot", "proposed time equals the current time")
	}
	if err := s.ensureSlotFree(ctx, appt.ExpertID, date, tod); err != nil {
		return nil, err
	}

	token, err := NewRescheduleToken()
	if err != nil {
		return nil, internalError("mint reschedule token", err)
	}

	req := &RescheduleRequest{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		ProposedDate:  date,
		ProposedTime:  tod,
		Reason:        reason,
		Token:         token,
		State:         ReschedulePending,
		CreatedAt:     now,
	}
	superseded, err := s.repo.CreateReschedule(ctx, req)
	if err != nil {
		return nil, wrapStore("create reschedule request", err)
	}

	s.log(ctx).Info("reschedule proposed",
		"appointment_id", appt.ID,
		"proposed", fmt.Sprintf("%s %s", date, tod),
		"superseded", superseded,
	)

	s.recordActivity(ctx, p.Actor, ActionRescheduleProposed, appt.ID, map[string]any{
		"request_id":    req.ID.String(),
		"proposed_date": date.String(),
		"proposed_time": tod.String(),
		"reason":        reason,
		"superseded":    superseded,
	})

	expert := s.expertFor(ctx, appt.ExpertID)
	s.send(ctx, notify.Event{
		Kind:        notify.KindRescheduleProposed,
		To:          customerRecipient(appt),
		Appointment: s.view(appt, expert),
		Reason:      reason,
		Proposed: &notify.ProposedSlot{
			Date:     date.String(),
			Time:     tod.String(),
			StartsAt: proposedAt,
		},
		ApproveURL: s.rescheduleURL(token, "approve"),
		RejectURL:  s.rescheduleURL(token, "reject"),
	})

	return req, nil
}

func (s *Service) rescheduleURL(token, action string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	return base + "/appointments/reschedule/" + url.PathEscape(token) + "/" + action
}

// ApproveReschedule consumes token and moves the appointment to the proposed
// date and time. A proposal whose start has already passed is refused with
// ErrProposalInPast and the token stays open for rejection.
func (s *Service) ApproveReschedule(ctx context.Context, token string) (*RescheduleResolution, error) {
	return s.resolveReschedule(ctx, token, true)
}

// RejectReschedule consumes token and leaves the appointment unchanged.
func (s *Service) RejectReschedule(ctx context.Context, token string) (*RescheduleResolution, error) {
	return s.resolveReschedule(ctx, token, false)
}

func (s *Service) resolveReschedule(ctx context.Context, token string, approve bool) (*RescheduleResolution, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenNotFound
	}

	now := s.now()
	if approve {
		req, err := s.repo.GetRescheduleByToken(ctx, token)
		if err != nil {
			return nil, wrapStore("load reschedule request", err)
		}
		if req.State == ReschedulePending && !req.ProposedDate.At(req.ProposedTime, s.cfg.Location).After(now) {
			return nil, ErrProposalInPast
		}
	}

	res, err := s.repo.ResolveReschedule(ctx, token, approve, now)
	if err != nil {
		return nil, wrapStore("resolve reschedule request", err)
	}

	appt := &res.Appointment
	expert := s.expertFor(ctx, appt.ExpertID)
	customer := Actor{ID: "customer", Name: appt.Customer.Name}

	if approve {
		s.log(ctx).Info("reschedule approved",
			"appointment_id", appt.ID, "from", res.Previous.Slot(), "to", appt.Slot())
		s.recordActivity(ctx, customer, ActionRescheduleApproved, appt.ID, map[string]any{
			"request_id": res.Request.ID.String(),
			"from":       res.Previous.Slot(),
			"to":         appt.Slot(),
		})
		s.send(ctx, notify.Event{
			Kind:        notify.KindRescheduleApproved,
			To:          customerRecipient(appt),
			Appointment: s.view(appt, expert),
			Calendar:    true,
		})
		return res, nil
	}

	s.log(ctx).Info("reschedule rejected", "appointment_id", appt.ID, "slot", appt.Slot())
	s.recordActivity(ctx, customer, ActionRescheduleRejected, appt.ID, map[string]any{
		"request_id":    res.Request.ID.String(),
		"proposed_date": res.Request.ProposedDate.String(),
		"proposed_time": res.Request.ProposedTime.String(),
	})
	s.send(ctx, notify.Event{
		Kind:        notify.KindRescheduleRejected,
		To:          customerRecipient(appt),
		Appointment: s.view(appt, expert),
	})
	return res, nil
}
