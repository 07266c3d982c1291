package appointment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
)

// Partial unique indexes created by the migrations.
const (
	constraintActiveSlot     = "appointments_active_slot_key"
	constraintActiveCustomer = "appointments_active_customer_key"
	constraintPendingRequest = "reschedule_requests_pending_key"

	pgUniqueViolation = "23505"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PgRepository)(nil)

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const appointmentColumns = `
	id, expert_id, customer_name, customer_email, customer_phone, ticket_no,
	to_char(appointment_date, 'YYYY-MM-DD'), to_char(appointment_time, 'HH24:MI'),
	status, notes, cancellation_reason, reassignment_reason, reminder_sent_at,
	created_at, updated_at`

const rescheduleColumns = `
	id, appointment_id, to_char(proposed_date, 'YYYY-MM-DD'), to_char(proposed_time, 'HH24:MI'),
	reason, token, state, created_at, resolved_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date, tod, status string

	err := row.Scan(
		&a.ID,
		&a.ExpertID,
		&a.Customer.Name,
		&a.Customer.Email,
		&a.Customer.Phone,
		&a.TicketNo,
		&date,
		&tod,
		&status,
		&a.Notes,
		&a.CancellationReason,
		&a.ReassignmentReason,
		&a.ReminderSentAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.Date, err = availability.ParseDate(date); err != nil {
		return nil, fmt.Errorf("appointment %s date %q: %w", a.ID, date, err)
	}
	if a.Time, err = availability.ParseTimeOfDay(tod); err != nil {
		return nil, fmt.Errorf("appointment %s time %q: %w", a.ID, tod, err)
	}
	a.Status = Status(status)
	return &a, nil
}

func scanReschedule(row pgx.Row) (*RescheduleRequest, error) {
	var req RescheduleRequest
	var date, tod, state string

	err := row.Scan(
		&req.ID,
		&req.AppointmentID,
		&date,
		&tod,
		&req.Reason,
		&req.Token,
		&state,
		&req.CreatedAt,
		&req.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	if req.ProposedDate, err = availability.ParseDate(date); err != nil {
		return nil, fmt.Errorf("reschedule %s date %q: %w", req.ID, date, err)
	}
	if req.ProposedTime, err = availability.ParseTimeOfDay(tod); err != nil {
		return nil, fmt.Errorf("reschedule %s time %q: %w", req.ID, tod, err)
	}
	req.State = RescheduleState(state)
	return &req, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// mapUniqueViolation turns a violated partial unique index into the engine
// conflict it stands for.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintActiveSlot:
		return ErrSlotTaken
	case constraintActiveCustomer:
		return ErrCustomerHasActive
	case constraintPendingRequest:
		return &Error{Kind: KindConflict, Code: "reschedule_pending", Message: "a reschedule request is already pending", Err: err}
	}
	return err
}

// Experts and availability

func (r *PgRepository) GetExpert(ctx context.Context, id uuid.UUID) (*Expert, error) {
	var e Expert
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at
		FROM experts
		WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &e.Email, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExpertNotFound
		}
		return nil, fmt.Errorf("get expert: %w", err)
	}
	return &e, nil
}

func (r *PgRepository) ListExperts(ctx context.Context) ([]Expert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, email, created_at
		FROM experts
		ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list experts: %w", err)
	}
	defer rows.Close()

	var result []Expert
	for rows.Next() {
		var e Expert
		if err := rows.Scan(&e.ID, &e.Name, &e.Email, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateExpert(ctx context.Context, e *Expert) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO experts (id, name, email)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, e.ID, e.Name, e.Email).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert expert: %w", err)
	}
	return nil
}

// CreateWindow inserts w unless it overlaps another window of the same expert
// and weekday. The expert row is locked so concurrent inserts serialize.
func (r *PgRepository) CreateWindow(ctx context.Context, w *availability.Window) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM experts WHERE id = $1 FOR UPDATE`, w.ExpertID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrExpertNotFound
		}
		return fmt.Errorf("lock expert: %w", err)
	}

	var overlaps bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM availability_windows
			WHERE expert_id = $1
			  AND day_of_week = $2
			  AND start_time < $4::time
			  AND $3::time < end_time
		)
	`, w.ExpertID, int(w.Day), w.Start.String(), w.End.String()).Scan(&overlaps)
	if err != nil {
		return fmt.Errorf("check window overlap: %w", err)
	}
	if overlaps {
		return ErrWindowOverlap
	}

	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO availability_windows (id, expert_id, day_of_week, start_time, end_time)
		VALUES ($1, $2, $3, $4::time, $5::time)
	`, w.ID, w.ExpertID, int(w.Day), w.Start.String(), w.End.String())
	if err != nil {
		return fmt.Errorf("insert window: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PgRepository) WindowsForDay(ctx context.Context, expertID uuid.UUID, day availability.Weekday) ([]availability.Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM availability_windows
		WHERE expert_id = $1 AND day_of_week = $2
		ORDER BY start_time
	`, expertID, int(day))
	if err != nil {
		return nil, fmt.Errorf("query windows: %w", err)
	}
	defer rows.Close()

	var result []availability.Window
	for rows.Next() {
		var id uuid.UUID
		var start, end string
		if err := rows.Scan(&id, &start, &end); err != nil {
			return nil, err
		}
		s, err := availability.ParseTimeOfDay(start)
		if err != nil {
			return nil, fmt.Errorf("window %s start %q: %w", id, start, err)
		}
		e, err := availability.ParseTimeOfDay(end)
		if err != nil {
			return nil, fmt.Errorf("window %s end %q: %w", id, end, err)
		}
		result = append(result, availability.Window{ID: id, ExpertID: expertID, Day: day, Start: s, End: e})
	}
	return result, rows.Err()
}

// Appointments

func (r *PgRepository) FindActiveBySlot(ctx context.Context, expertID uuid.UUID, date availability.Date, tod availability.TimeOfDay) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE expert_id = $1
		  AND appointment_date = $2::date
		  AND appointment_time = $3::time
		  AND status <> 'cancelled'
	`, expertID, date.String(), tod.String())
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveByCustomer(ctx context.Context, email, phone string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE lower(customer_email) = lower($1)
		  AND customer_phone = $2
		  AND status <> 'cancelled'
		LIMIT 1
	`, email, phone)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter ListFilter) ([]Appointment, int, error) {
	filter = filter.Normalize()

	var where []string
	var args []any
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ExpertID != nil {
		args = append(args, *filter.ExpertID)
		where = append(where, fmt.Sprintf("expert_id = $%d", len(args)))
	}
	if filter.Date != nil {
		args = append(args, filter.Date.String())
		where = append(where, fmt.Sprintf("appointment_date = $%d::date", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM appointments `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM appointments
		%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, appointmentColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	items, err := collectAppointments(rows)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []Appointment{}
	}
	return items, total, nil
}

// CreateAppointment relies on the partial unique indexes: whichever insert
// commits second gets a unique violation instead of a double booking.
func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (
			id, expert_id, customer_name, customer_email, customer_phone, ticket_no,
			appointment_date, appointment_time, status, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::date, $8::time, $9, $10, $11, $11)
	`, a.ID, a.ExpertID, a.Customer.Name, a.Customer.Email, a.Customer.Phone, a.TicketNo,
		a.Date.String(), a.Time.String(), string(a.Status), a.Notes, a.CreatedAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// UpdateStatus supersedes the appointment's pending reschedule requests in
// the same transaction, so their links stop working once it leaves approved.
func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, cancellationReason string, now time.Time) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancellation_reason = CASE WHEN $2 = 'cancelled' THEN $4 ELSE cancellation_reason END,
		    updated_at = $5
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from), cancellationReason, now)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, r.missingOrStale(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	if to != StatusApproved {
		_, err = tx.Exec(ctx, `
			UPDATE reschedule_requests
			SET state = 'superseded', resolved_at = $2
			WHERE appointment_id = $1 AND state = 'pending'
		`, id, now)
		if err != nil {
			return nil, fmt.Errorf("supersede pending requests: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return a, nil
}

func (r *PgRepository) Reassign(ctx context.Context, id, fromExpert, toExpert uuid.UUID, status Status, reason string, now time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET expert_id = $3,
		    reassignment_reason = $5,
		    updated_at = $6
		WHERE id = $1
		  AND expert_id = $2
		  AND status = $4
		RETURNING `+appointmentColumns,
		id, fromExpert, toExpert, string(status), reason, now)

	a, err := scanAppointment(row)
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return nil, r.missingOrStale(ctx, id)
	case err != nil:
		if mapped := mapUniqueViolation(err); mapped != err {
			return nil, mapped
		}
		return nil, fmt.Errorf("reassign appointment: %w", err)
	}
	return a, nil
}

// missingOrStale explains why a compare-and-set matched no row.
func (r *PgRepository) missingOrStale(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check appointment: %w", err)
	}
	if !exists {
		return ErrAppointmentNotFound
	}
	return ErrStaleStatus
}

func (r *PgRepository) MarkReminderSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent_at = $2
		WHERE id = $1
		  AND status = 'approved'
		  AND reminder_sent_at IS NULL
	`, id, now)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrStale(ctx, id)
	}
	return nil
}

func (r *PgRepository) ListApprovedWithoutReminder(ctx context.Context, from, to availability.Date) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'approved'
		  AND reminder_sent_at IS NULL
		  AND appointment_date BETWEEN $1::date AND $2::date
		ORDER BY appointment_date, appointment_time
	`, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) DeleteCancelled(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1 AND status = 'cancelled'
	`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	err = r.missingOrStale(ctx, id)
	if errors.Is(err, ErrStaleStatus) {
		return ErrNotCancelled
	}
	return err
}

func (r *PgRepository) PurgeCancelled(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE status = 'cancelled'`)
	if err != nil {
		return 0, fmt.Errorf("purge cancelled appointments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Reschedule requests

func (r *PgRepository) CreateReschedule(ctx context.Context, req *RescheduleRequest) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE reschedule_requests
		SET state = 'superseded', resolved_at = $2
		WHERE appointment_id = $1 AND state = 'pending'
	`, req.AppointmentID, req.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("supersede pending requests: %w", err)
	}

	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO reschedule_requests (id, appointment_id, proposed_date, proposed_time, reason, token, state, created_at)
		VALUES ($1, $2, $3::date, $4::time, $5, $6, $7, $8)
	`, req.ID, req.AppointmentID, req.ProposedDate.String(), req.ProposedTime.String(),
		req.Reason, req.Token, string(req.State), req.CreatedAt)
	if err != nil {
		if mapped := mapUniqueViolation(err); mapped != err {
			return 0, mapped
		}
		return 0, fmt.Errorf("insert reschedule request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) GetRescheduleByToken(ctx context.Context, token string) (*RescheduleRequest, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+rescheduleColumns+`
		FROM reschedule_requests
		WHERE token = $1
	`, token)
	return scanReschedule(row)
}

// ResolveReschedule locks the request and its appointment, so two clicks on
// the same link resolve exactly once.
func (r *PgRepository) ResolveReschedule(ctx context.Context, token string, approve bool, now time.Time) (*RescheduleResolution, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	req, err := scanReschedule(tx.QueryRow(ctx, `
		SELECT `+rescheduleColumns+`
		FROM reschedule_requests
		WHERE token = $1
		FOR UPDATE
	`, token))
	if err != nil {
		return nil, err
	}
	if req.State != ReschedulePending {
		return nil, ErrTokenResolved
	}

	previous, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, req.AppointmentID))
	if err != nil {
		return nil, err
	}
	if previous.Status != StatusApproved {
		return nil, ErrStaleStatus
	}

	current := *previous
	state := RescheduleRejected
	if approve {
		state = RescheduleApproved
		updated, err := scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET appointment_date = $2::date,
			    appointment_time = $3::time,
			    reminder_sent_at = NULL,
			    updated_at = $4
			WHERE id = $1
			RETURNING `+appointmentColumns,
			req.AppointmentID, req.ProposedDate.String(), req.ProposedTime.String(), now))
		if err != nil {
			if mapped := mapUniqueViolation(err); mapped != err {
				return nil, mapped
			}
			return nil, fmt.Errorf("move appointment: %w", err)
		}
		current = *updated
	}

	_, err = tx.Exec(ctx, `
		UPDATE reschedule_requests
		SET state = $2, resolved_at = $3
		WHERE id = $1
	`, req.ID, string(state), now)
	if err != nil {
		return nil, fmt.Errorf("resolve reschedule request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	req.State = state
	req.ResolvedAt = &now
	return &RescheduleResolution{Request: *req, Appointment: current, Previous: *previous}, nil
}

// Activity log and settings

func (r *PgRepository) InsertActivity(ctx context.Context, entry ActivityEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO activity_logs (actor_id, actor_name, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`, entry.ActorID, entry.ActorName, entry.Action, entry.EntityType, entry.EntityID,
		nullableJSON(entry.Details), nullableTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableJSON(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}

const settingMinimumBookingHours = "minimum_booking_hours"

// PgSettings reads engine settings from the settings table.
type PgSettings struct {
	pool *pgxpool.Pool
}

var _ Settings = (*PgSettings)(nil)

func NewPgSettings(pool *pgxpool.Pool) *PgSettings {
	return &PgSettings{pool: pool}
}

func (s *PgSettings) MinimumBookingHours(ctx context.Context) (int, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, settingMinimumBookingHours).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", settingMinimumBookingHours, err)
	}
	hours, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", settingMinimumBookingHours, value, err)
	}
	return hours, nil
}
