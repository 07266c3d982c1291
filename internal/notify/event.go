// Package notify carries appointment notifications from the booking engine
// to the mail sender. Events are dispatched after the state change commits
// and are best effort: failures are logged and dropped.
package notify

import (
	"time"
)

type Kind string

const (
	KindNewAppointment     Kind = "appointment.created"
	KindApproved           Kind = "appointment.approved"
	KindCancelled          Kind = "appointment.cancelled"
	KindCompleted          Kind = "appointment.completed"
	KindReminder           Kind = "appointment.reminder"
	KindReassignedAway     Kind = "appointment.reassigned_away"
	KindReassignedTo       Kind = "appointment.reassigned_to"
	KindReassignedCustomer Kind = "appointment.reassigned_customer"
	KindRescheduleProposed Kind = "reschedule.proposed"
	KindRescheduleApproved Kind = "reschedule.approved"
	KindRescheduleRejected Kind = "reschedule.rejected"
)

type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AppointmentView is the denormalized appointment a template needs.
type AppointmentView struct {
	ID            string    `json:"id"`
	ExpertName    string    `json:"expert_name"`
	ExpertEmail   string    `json:"expert_email"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	CustomerPhone string    `json:"customer_phone"`
	TicketNo      string    `json:"ticket_no"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	StartsAt      time.Time `json:"starts_at"`
	Status        string    `json:"status"`
	Notes         string    `json:"notes,omitempty"`
}

type ProposedSlot struct {
	Date     string    `json:"date"`
	Time     string    `json:"time"`
	StartsAt time.Time `json:"starts_at"`
}

// Event is published to the notification queue, one per recipient.
type Event struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	OccurredAt     time.Time       `json:"occurred_at"`
	To             Recipient       `json:"to"`
	Appointment    AppointmentView `json:"appointment"`
	Reason         string          `json:"reason,omitempty"`
	PreviousExpert string          `json:"previous_expert,omitempty"`
	Proposed       *ProposedSlot   `json:"proposed,omitempty"`
	ApproveURL     string          `json:"approve_url,omitempty"`
	RejectURL      string          `json:"reject_url,omitempty"`
	Calendar       bool            `json:"calendar,omitempty"`
}
