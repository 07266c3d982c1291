package notify

import (
	"fmt"
	"strings"
	"time"
)

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To          Recipient
	Subject     string
	Body        string
	Attachments []Attachment
}

// Renderer turns events into plain text messages.
type Renderer struct {
	Location     *time.Location
	SlotDuration time.Duration
	Organizer    Recipient
	Now          func() time.Time
}

func (r Renderer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Renderer) Render(ev Event) (Message, error) {
	a := ev.Appointment
	when := fmt.Sprintf("%s %s", a.Date, a.Time)

	var subject string
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", ev.To.Name)

	switch ev.Kind {
	case KindNewAppointment:
		subject = "New consultation request " + a.TicketNo
		fmt.Fprintf(&b, "%s booked a consultation with you on %s for ticket %s.\n", a.CustomerName, when, a.TicketNo)
		fmt.Fprintf(&b, "Contact: %s, %s\n", a.CustomerEmail, a.CustomerPhone)
		if a.Notes != "" {
			fmt.Fprintf(&b, "Notes: %s\n", a.Notes)
		}
		b.WriteString("The appointment is waiting for approval.\n")
	case KindApproved:
		subject = "Your consultation is confirmed"
		fmt.Fprintf(&b, "Your consultation with %s on %s has been approved.\n", a.ExpertName, when)
	case KindCancelled:
		subject = "Your consultation was cancelled"
		fmt.Fprintf(&b, "Your consultation with %s on %s has been cancelled.\n", a.ExpertName, when)
		if ev.Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", ev.Reason)
		}
	case KindCompleted:
		subject = "How was your consultation?"
		fmt.Fprintf(&b, "Your consultation with %s on %s is complete. Please take a moment to answer our short survey.\n", a.ExpertName, when)
	case KindReminder:
		subject = "Reminder: upcoming consultation"
		fmt.Fprintf(&b, "This is a reminder of your consultation with %s on %s.\n", a.ExpertName, when)
	case KindReassignedAway:
		subject = "Consultation reassigned " + a.TicketNo
		fmt.Fprintf(&b, "The consultation with %s on %s is no longer assigned to you and was moved to %s.\n", a.CustomerName, when, a.ExpertName)
		if ev.Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", ev.Reason)
		}
	case KindReassignedTo:
		subject = "Consultation assigned to you " + a.TicketNo
		fmt.Fprintf(&b, "A consultation with %s on %s has been assigned to you.\n", a.CustomerName, when)
		if a.Status == "approved" {
			b.WriteString("It is already approved, no further action is required.\n")
		} else {
			b.WriteString("It is waiting for your approval.\n")
		}
		if ev.Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", ev.Reason)
		}
	case KindReassignedCustomer:
		subject = "Your consultation has a new expert"
		fmt.Fprintf(&b, "Your consultation on %s will now be held by %s.\n", when, a.ExpertName)
	case KindRescheduleProposed:
		if ev.Proposed == nil {
			return Message{}, fmt.Errorf("%s event without proposed slot", ev.Kind)
		}
		subject = "Please confirm a new time for your consultation"
		fmt.Fprintf(&b, "%s proposes moving your consultation from %s to %s %s.\n", a.ExpertName, when, ev.Proposed.Date, ev.Proposed.Time)
		if ev.Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", ev.Reason)
		}
		fmt.Fprintf(&b, "\nAccept the new time: %s\nKeep the original time: %s\n", ev.ApproveURL, ev.RejectURL)
	case KindRescheduleApproved:
		subject = "Your consultation was rescheduled"
		fmt.Fprintf(&b, "Your consultation with %s is now on %s.\n", a.ExpertName, when)
	case KindRescheduleRejected:
		subject = "Your consultation time is unchanged"
		fmt.Fprintf(&b, "You kept the original time. Your consultation with %s remains on %s.\n", a.ExpertName, when)
	default:
		return Message{}, fmt.Errorf("unknown notification kind %q", ev.Kind)
	}

	fmt.Fprintf(&b, "\nTicket: %s\n", a.TicketNo)

	msg := Message{To: ev.To, Subject: subject, Body: b.String()}
	if ev.Calendar {
		msg.Attachments = append(msg.Attachments, r.calendar(ev))
	}
	return msg, nil
}

func (r Renderer) calendar(ev Event) Attachment {
	duration := r.SlotDuration
	if duration <= 0 {
		duration = 30 * time.Minute
	}
	start := ev.Appointment.StartsAt
	if r.Location != nil {
		start = start.In(r.Location)
	}

	invite := CalendarInvite{
		UID:         ev.Appointment.ID + "@randevu",
		Summary:     "Consultation " + ev.Appointment.TicketNo + " with " + ev.Appointment.ExpertName,
		Description: ev.Appointment.Notes,
		Start:       start,
		End:         start.Add(duration),
		Organizer:   Recipient{Name: ev.Appointment.ExpertName, Email: ev.Appointment.ExpertEmail},
		Attendee:    ev.To,
	}
	if ev.Kind == KindRescheduleApproved {
		invite.Sequence = 1
	}
	if invite.Organizer.Email == "" {
		invite.Organizer = r.Organizer
	}

	return Attachment{
		Filename:    "appointment.ics",
		ContentType: "text/calendar; charset=utf-8; method=REQUEST",
		Data:        invite.ICS(r.now()),
	}
}
