package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// transitions is the complete lifecycle. Anything not listed is illegal.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusCancelled},
	StatusApproved: {StatusCancelled, StatusCompleted},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusCancelled, StatusCompleted:
		return st, nil
	}
	return "", validationError("invalid_status", "unknown status %q", s)
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Active reports whether the appointment still occupies its slot.
func (s Status) Active() bool {
	return s != StatusCancelled
}

type Expert struct {
	ID        uuid.UUID
	Name      string
	Email     string
	CreatedAt time.Time
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

type Appointment struct {
	ID                 uuid.UUID
	ExpertID           uuid.UUID
	Customer           Customer
	TicketNo           string
	Date               availability.Date
	Time               availability.TimeOfDay
	Status             Status
	Notes              string
	CancellationReason string
	ReassignmentReason string
	ReminderSentAt     *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StartsAt resolves the appointment's civil date and time in loc.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	return a.Date.At(a.Time, loc)
}

func (a *Appointment) Slot() string {
	return fmt.Sprintf("%s %s", a.Date, a.Time)
}

type RescheduleState string

const (
	ReschedulePending    RescheduleState = "pending"
	RescheduleApproved   RescheduleState = "approved"
	RescheduleRejected   RescheduleState = "rejected"
	RescheduleSuperseded RescheduleState = "superseded"
)

type RescheduleRequest struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	ProposedDate  availability.Date
	ProposedTime  availability.TimeOfDay
	Reason        string
	Token         string
	State         RescheduleState
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// RescheduleResolution is the outcome of consuming a reschedule token.
// Previous holds the appointment as it was before the resolution.
type RescheduleResolution struct {
	Request     RescheduleRequest
	Appointment Appointment
	Previous    Appointment
}

// Actor identifies who triggered a state change, for the activity log.
type Actor struct {
	ID   string
	Name string
}

var SystemActor = Actor{ID: "system", Name: "System"}

// OrSystem substitutes SystemActor for an anonymous actor.
func (a Actor) OrSystem() Actor {
	if a.ID == "" && a.Name == "" {
		return SystemActor
	}
	if a.Name == "" {
		a.Name = a.ID
	}
	return a
}

type ActivityEntry struct {
	ID         int64
	ActorID    string
	ActorName  string
	Action     string
	EntityType string
	EntityID   string
	Details    []byte
	CreatedAt  time.Time
}

type ListFilter struct {
	Status   *Status
	ExpertID *uuid.UUID
	Date     *availability.Date
	Page     int
	Limit    int
}

// Normalize clamps paging to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = 20 // default
	}
	if f.Limit > 100 {
		f.Limit = 100 // max
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return f
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type Page struct {
	Items []Appointment
	Total int
	Page  int
	Limit int
}
