package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
)

// Repository contains all store interactions needed by the service. It is
// constructed once at process start and shared by every component.
type Repository interface {
	GetExpert(ctx context.Context, id uuid.UUID) (*Expert, error)
	ListExperts(ctx context.Context) ([]Expert, error)
	WindowsForDay(ctx context.Context, expertID uuid.UUID, day availability.Weekday) ([]availability.Window, error)

	// For conflict checks; both return ErrAppointmentNotFound when free.
	FindActiveBySlot(ctx context.Context, expertID uuid.UUID, date availability.Date, tod availability.TimeOfDay) (*Appointment, error)
	FindActiveByCustomer(ctx context.Context, email, phone string) (*Appointment, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, int, error)

	// CreateAppointment inserts atomically with respect to the active slot and
	// active customer uniqueness rules, returning ErrSlotTaken or
	// ErrCustomerHasActive when the insert loses a race.
	CreateAppointment(ctx context.Context, a *Appointment) error

	// Status and expert changes are compare-and-set; ErrStaleStatus means the
	// row no longer matched the expected state. Leaving approved supersedes
	// pending reschedule requests atomically with the status change.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, cancellationReason string, now time.Time) (*Appointment, error)
	Reassign(ctx context.Context, id, fromExpert, toExpert uuid.UUID, status Status, reason string, now time.Time) (*Appointment, error)
	// MarkReminderSent claims the reminder for an approved appointment that
	// has none yet; ErrStaleStatus means another caller or a transition won.
	MarkReminderSent(ctx context.Context, id uuid.UUID, now time.Time) error
	ListApprovedWithoutReminder(ctx context.Context, from, to availability.Date) ([]Appointment, error)

	// DeleteCancelled hard deletes one appointment if it is cancelled.
	DeleteCancelled(ctx context.Context, id uuid.UUID) error
	PurgeCancelled(ctx context.Context) (int, error)

	// CreateReschedule supersedes any pending request for the appointment and
	// stores req in one transaction, returning the number superseded.
	CreateReschedule(ctx context.Context, req *RescheduleRequest) (int, error)
	GetRescheduleByToken(ctx context.Context, token string) (*RescheduleRequest, error)
	// ResolveReschedule consumes a pending token exactly once. When approve is
	// true the appointment's date and time are replaced in the same transaction.
	ResolveReschedule(ctx context.Context, token string, approve bool, now time.Time) (*RescheduleResolution, error)

	InsertActivity(ctx context.Context, entry ActivityEntry) error
}

// Settings is the external settings collaborator.
type Settings interface {
	MinimumBookingHours(ctx context.Context) (int, error)
}

// StaticSettings serves fixed values.
type StaticSettings struct {
	MinBookingHours int
}

func (s StaticSettings) MinimumBookingHours(context.Context) (int, error) {
	return s.MinBookingHours, nil
}
