package appointment

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/notify"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/slotlock"
)

var ticketPattern = regexp.MustCompile(`^INC0\d{6}$`)

// E.164 allows at most 15 digits.
const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// ValidTicketNo reports whether s is a support ticket number (INC0 + 6 digits).
func ValidTicketNo(s string) bool {
	return ticketPattern.MatchString(s)
}

type BookingRequest struct {
	ExpertID  uuid.UUID
	Customer  Customer
	TicketNo  string
	Date      string
	Time      string
	Notes     string
	SessionID string // soft lock owner, released after a successful booking
	Actor     Actor
}

// Book validates req and creates a pending appointment. Checks run in a
// fixed order and stop at the first failure:
//
//	ticket format, expert exists, exact availability start, slot conflict,
//	active customer, minimum lead time.
//
// The insert itself is conditional, so a booking that loses a race after
// passing the conflict checks still reports a conflict.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	appt, err := s.book(ctx, req)
	if err != nil {
		s.metrics.RecordBooking(string(KindOf(err)))
		return nil, err
	}
	s.metrics.RecordBooking("created")
	return appt, nil
}

func (s *Service) book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	customer, date, tod, err := normalizeBooking(req)
	if err != nil {
		return nil, err
	}

	if !ValidTicketNo(req.TicketNo) {
		return nil, ErrInvalidTicket
	}

	expert, err := s.repo.GetExpert(ctx, req.ExpertID)
	if err != nil {
		return nil, wrapStore("load expert", err)
	}

	open, err := s.index.IsOpen(ctx, expert.ID, date, tod)
	if err != nil {
		return nil, internalError("load availability", err)
	}
	if !open {
		return nil, ErrSlotUnavailable
	}

	if err := s.ensureSlotFree(ctx, expert.ID, date, tod); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindActiveByCustomer(ctx, customer.Email, customer.Phone); err == nil {
		return nil, ErrCustomerHasActive
	} else if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, internalError("check customer appointments", err)
	}

	now := s.now()
	minHours := s.minimumBookingHours(ctx)
	if date.At(tod, s.cfg.Location).Sub(now) < time.Duration(minHours)*time.Hour {
		return nil, &Error{
			Kind:    KindValidation,
			Code:    ErrLeadTime.Code,
			Message: fmt.Sprintf("appointments must be booked at least %d hours in advance", minHours),
		}
	}

	appt := &Appointment{
		ID:        uuid.New(),
		ExpertID:  expert.ID,
		Customer:  customer,
		TicketNo:  req.TicketNo,
		Date:      date,
		Time:      tod,
		Status:    StatusPending,
		Notes:     strings.TrimSpace(req.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateAppointment(ctx, appt); err != nil {
		return nil, wrapStore("create appointment", err)
	}

	s.log(ctx).Info("appointment booked",
		"appointment_id", appt.ID,
		"expert_id", expert.ID,
		"slot", appt.Slot(),
		"ticket_no", appt.TicketNo,
	)

	s.recordActivity(ctx, req.Actor, ActionCreated, appt.ID, map[string]any{
		"expert_id": expert.ID.String(),
		"date":      date.String(),
		"time":      tod.String(),
		"ticket_no": appt.TicketNo,
	})

	s.send(ctx, notify.Event{
		Kind:        notify.KindNewAppointment,
		To:          expertRecipient(*expert),
		Appointment: s.view(appt, *expert),
	})

	if req.SessionID != "" && s.locks != nil {
		if err := s.locks.Release(ctx, req.SessionID); err != nil && !errors.Is(err, slotlock.ErrLockNotFound) {
			s.log(ctx).Warn("failed to release slot lock after booking", "session_id", req.SessionID, "error", err)
		}
	}

	return appt, nil
}

// ensureSlotFree reports ErrSlotTaken when an active appointment holds the slot.
func (s *Service) ensureSlotFree(ctx context.Context, expertID uuid.UUID, date availability.Date, tod availability.TimeOfDay) error {
	_, err := s.repo.FindActiveBySlot(ctx, expertID, date, tod)
	switch {
	case err == nil:
		return ErrSlotTaken
	case errors.Is(err, ErrAppointmentNotFound):
		return nil
	default:
		return internalError("check slot", err)
	}
}

// minimumBookingHours reads the setting, falling back to the configured
// default when the settings store is unavailable.
func (s *Service) minimumBookingHours(ctx context.Context) int {
	hours, err := s.settings.MinimumBookingHours(ctx)
	if err != nil || hours < 0 {
		s.log(ctx).Warn("using default minimum booking hours", "default", s.cfg.MinBookingHours, "error", err)
		return s.cfg.MinBookingHours
	}
	return hours
}

// NormalizeEmail returns the bare lowercase address. Display names are
// rejected so every mailbox has exactly one stored form.
func NormalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", validationError("invalid_email", "customer email %q is invalid", raw)
	}
	return strings.ToLower(addr.Address), nil
}

// NormalizePhone strips formatting, keeping digits and a leading "+".
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", validationError("invalid_phone", "customer phone %q is invalid", raw)
		}
	}
	phone := b.String()
	if digits := len(strings.TrimPrefix(phone, "+")); digits < minPhoneDigits || digits > maxPhoneDigits {
		return "", validationError("invalid_phone", "customer phone %q is invalid", raw)
	}
	return phone, nil
}

func normalizeBooking(req BookingRequest) (Customer, availability.Date, availability.TimeOfDay, error) {
	c := Customer{
		Name:  strings.TrimSpace(req.Customer.Name),
		Email: strings.ToLower(strings.TrimSpace(req.Customer.Email)),
		Phone: strings.TrimSpace(req.Customer.Phone),
	}
	if req.ExpertID == uuid.Nil {
		return c, availability.Date{}, 0, validationError("expert_required", "expertId is required")
	}
	if c.Name == "" {
		return c, availability.Date{}, 0, validationError("name_required", "customer name is required")
	}
	if c.Email == "" {
		return c, availability.Date{}, 0, validationError("email_required", "customer email is required")
	}
	email, err := NormalizeEmail(c.Email)
	if err != nil {
		return c, availability.Date{}, 0, err
	}
	c.Email = email
	if c.Phone == "" {
		return c, availability.Date{}, 0, validationError("phone_required", "customer phone is required")
	}
	phone, err := NormalizePhone(c.Phone)
	if err != nil {
		return c, availability.Date{}, 0, err
	}
	c.Phone = phone
	if strings.TrimSpace(req.TicketNo) == "" {
		return c, availability.Date{}, 0, validationError("ticket_required", "ticket number is required")
	}

	date, err := availability.ParseDate(req.Date)
	if err != nil {
		return c, availability.Date{}, 0, validationError("invalid_date", "date %q must be YYYY-MM-DD", req.Date)
	}
	tod, err := availability.ParseTimeOfDay(req.Time)
	if err != nil {
		return c, availability.Date{}, 0, validationError("invalid_time", "time %q must be HH:MM", req.Time)
	}
	return c, date, tod, nil
}
