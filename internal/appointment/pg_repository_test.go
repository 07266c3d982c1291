package appointment

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/db"
)

func TestMapUniqueViolation(t *testing.T) {
	slot := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: constraintActiveSlot}
	assert.ErrorIs(t, mapUniqueViolation(slot), ErrSlotTaken)

	customer := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: constraintActiveCustomer}
	assert.ErrorIs(t, mapUniqueViolation(customer), ErrCustomerHasActive)

	pending := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: constraintPendingRequest}
	assert.ErrorIs(t, mapUniqueViolation(pending), ErrConflict)

	other := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "experts_email_key"}
	assert.Equal(t, error(other), mapUniqueViolation(other))

	plain := errors.New("connection reset")
	assert.Equal(t, plain, mapUniqueViolation(plain))
}

// newPgRepository connects to POSTGRES_TEST_DSN, migrates and empties the
// schema. Tests are skipped when the variable is unset.
func newPgRepository(t *testing.T) (*PgRepository, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool, nil))
	_, err = pool.Exec(ctx, `TRUNCATE activity_logs, reschedule_requests, appointments, availability_windows, experts`)
	require.NoError(t, err)

	return NewPgRepository(pool), pool
}

func TestPgRepository_BookingUniqueness(t *testing.T) {
	repo, pool := newPgRepository(t)
	ctx := context.Background()

	expert := &Expert{Name: "Mert Demir", Email: "mert@example.com"}
	require.NoError(t, repo.CreateExpert(ctx, expert))

	start, end := availability.NewTimeOfDay(9, 0), availability.NewTimeOfDay(11, 0)
	w, err := availability.NewWindow(expert.ID, availability.Monday, start, end)
	require.NoError(t, err)
	require.NoError(t, repo.CreateWindow(ctx, &w))

	overlap, err := availability.NewWindow(expert.ID, availability.Monday, availability.NewTimeOfDay(10, 0), availability.NewTimeOfDay(12, 0))
	require.NoError(t, err)
	require.ErrorIs(t, repo.CreateWindow(ctx, &overlap), ErrWindowOverlap)

	windows, err := repo.WindowsForDay(ctx, expert.ID, availability.Monday)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, start, windows[0].Start)

	date, err := availability.ParseDate(monday)
	require.NoError(t, err)
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := &Appointment{
		ExpertID: expert.ID, Customer: Customer{Name: "Ayse", Email: "a@x.com", Phone: "5551234567"},
		TicketNo: "INC0123456", Date: date, Time: start, Status: StatusPending, CreatedAt: now,
	}
	require.NoError(t, repo.CreateAppointment(ctx, first))

	sameSlot := *first
	sameSlot.ID = uuid.Nil
	sameSlot.Customer = Customer{Name: "Bora", Email: "b@x.com", Phone: "5557654321"}
	require.ErrorIs(t, repo.CreateAppointment(ctx, &sameSlot), ErrSlotTaken)

	sameCustomer := *first
	sameCustomer.ID = uuid.Nil
	sameCustomer.Time = availability.NewTimeOfDay(10, 0)
	sameCustomer.Customer.Email = "A@X.COM"
	require.ErrorIs(t, repo.CreateAppointment(ctx, &sameCustomer), ErrCustomerHasActive)

	got, err := repo.FindActiveBySlot(ctx, expert.ID, date, start)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, monday+" 09:00", got.Slot())

	// compare-and-set
	_, err = repo.UpdateStatus(ctx, first.ID, StatusApproved, StatusCompleted, "", now)
	require.ErrorIs(t, err, ErrStaleStatus)
	cancelled, err := repo.UpdateStatus(ctx, first.ID, StatusPending, StatusCancelled, "no longer needed", now)
	require.NoError(t, err)
	assert.Equal(t, "no longer needed", cancelled.CancellationReason)

	require.NoError(t, repo.CreateAppointment(ctx, &sameSlot))

	items, total, err := repo.ListAppointments(ctx, ListFilter{ExpertID: &expert.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	require.ErrorIs(t, repo.DeleteCancelled(ctx, sameSlot.ID), ErrNotCancelled)
	require.NoError(t, repo.DeleteCancelled(ctx, first.ID))
	require.ErrorIs(t, repo.DeleteCancelled(ctx, first.ID), ErrAppointmentNotFound)

	hours, err := NewPgSettings(pool).MinimumBookingHours(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, hours)
}

func TestPgRepository_RescheduleResolvesOnce(t *testing.T) {
	repo, _ := newPgRepository(t)
	ctx := context.Background()

	expert := &Expert{Name: "Selin Yildiz", Email: "selin@example.com"}
	require.NoError(t, repo.CreateExpert(ctx, expert))

	date, err := availability.ParseDate(monday)
	require.NoError(t, err)
	now := time.Now().UTC()

	appt := &Appointment{
		ExpertID: expert.ID, Customer: Customer{Name: "Ayse", Email: "a@x.com", Phone: "5551234567"},
		TicketNo: "INC0654321", Date: date, Time: availability.NewTimeOfDay(9, 0), Status: StatusApproved, CreatedAt: now,
	}
	require.NoError(t, repo.CreateAppointment(ctx, appt))

	proposed, err := availability.ParseDate("2026-10-21")
	require.NoError(t, err)
	newRequest := func(token string) *RescheduleRequest {
		return &RescheduleRequest{
			AppointmentID: appt.ID, ProposedDate: proposed, ProposedTime: availability.NewTimeOfDay(14, 0),
			Reason: "expert travelling", Token: token, State: ReschedulePending, CreatedAt: now,
		}
	}

	superseded, err := repo.CreateReschedule(ctx, newRequest("token-1"))
	require.NoError(t, err)
	assert.Zero(t, superseded)
	superseded, err = repo.CreateReschedule(ctx, newRequest("token-2"))
	require.NoError(t, err)
	assert.Equal(t, 1, superseded)

	old, err := repo.GetRescheduleByToken(ctx, "token-1")
	require.NoError(t, err)
	assert.Equal(t, RescheduleSuperseded, old.State)
	_, err = repo.ResolveReschedule(ctx, "token-1", true, now)
	require.ErrorIs(t, err, ErrTokenResolved)

	res, err := repo.ResolveReschedule(ctx, "token-2", true, now)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-21 14:00", res.Appointment.Slot())
	assert.Equal(t, monday+" 09:00", res.Previous.Slot())

	_, err = repo.ResolveReschedule(ctx, "token-2", false, now)
	require.ErrorIs(t, err, ErrTokenResolved)
	_, err = repo.ResolveReschedule(ctx, "missing", true, now)
	require.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, repo.InsertActivity(ctx, ActivityEntry{
		ActorID: "system", ActorName: "System", Action: ActionRescheduleApproved,
		EntityType: entityAppointment, EntityID: appt.ID.String(), Details: []byte(`{"to":"2026-10-21 14:00"}`),
	}))
}

func TestPgRepository_StatusChangeSupersedesAndReminderClaimsOnce(t *testing.T) {
	repo, _ := newPgRepository(t)
	ctx := context.Background()

	expert := &Expert{Name: "Selin Yildiz", Email: "selin@example.com"}
	require.NoError(t, repo.CreateExpert(ctx, expert))

	date, err := availability.ParseDate(monday)
	require.NoError(t, err)
	now := time.Now().UTC()

	appt := &Appointment{
		ExpertID: expert.ID, Customer: Customer{Name: "Ayse", Email: "a@x.com", Phone: "5551234567"},
		TicketNo: "INC0654321", Date: date, Time: availability.NewTimeOfDay(9, 0), Status: StatusApproved, CreatedAt: now,
	}
	require.NoError(t, repo.CreateAppointment(ctx, appt))

	require.NoError(t, repo.MarkReminderSent(ctx, appt.ID, now))
	require.ErrorIs(t, repo.MarkReminderSent(ctx, appt.ID, now), ErrStaleStatus)

	proposed, err := availability.ParseDate("2026-10-21")
	require.NoError(t, err)
	_, err = repo.CreateReschedule(ctx, &RescheduleRequest{
		AppointmentID: appt.ID, ProposedDate: proposed, ProposedTime: availability.NewTimeOfDay(14, 0),
		Reason: "expert travelling", Token: "token-cancel", State: ReschedulePending, CreatedAt: now,
	})
	require.NoError(t, err)

	_, err = repo.UpdateStatus(ctx, appt.ID, StatusApproved, StatusCancelled, "customer asked", now)
	require.NoError(t, err)

	req, err := repo.GetRescheduleByToken(ctx, "token-cancel")
	require.NoError(t, err)
	assert.Equal(t, RescheduleSuperseded, req.State)
	_, err = repo.ResolveReschedule(ctx, "token-cancel", true, now)
	require.ErrorIs(t, err, ErrTokenResolved)

	require.ErrorIs(t, repo.MarkReminderSent(ctx, appt.ID, now), ErrStaleStatus)
	require.ErrorIs(t, repo.MarkReminderSent(ctx, uuid.New(), now), ErrAppointmentNotFound)
}
