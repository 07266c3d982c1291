package appointment

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
)

var ErrWindowOverlap = errors.New("availability window overlaps an existing window")

// MemoryRepository is a process-local Repository. A single mutex serializes
// every write, which gives the same uniqueness guarantees as the Postgres
// partial indexes.
type MemoryRepository struct {
	mu           sync.Mutex
	experts      map[uuid.UUID]Expert
	windows      []availability.Window
	appointments map[uuid.UUID]Appointment
	reschedules  map[string]RescheduleRequest
	activity     []ActivityEntry
	nextActivity int64
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		experts:      make(map[uuid.UUID]Expert),
		appointments: make(map[uuid.UUID]Appointment),
		reschedules:  make(map[string]RescheduleRequest),
	}
}

func (r *MemoryRepository) AddExpert(e Expert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.experts[e.ID] = e
}

// AddWindow stores w, rejecting overlaps with the expert's existing windows.
func (r *MemoryRepository) AddWindow(w availability.Window) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.windows {
		if existing.Overlaps(w) {
			return ErrWindowOverlap
		}
	}
	r.windows = append(r.windows, w)
	return nil
}

func (r *MemoryRepository) CreateExpert(_ context.Context, e *Expert) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	r.AddExpert(*e)
	return nil
}

func (r *MemoryRepository) CreateWindow(_ context.Context, w *availability.Window) error {
	r.mu.Lock()
	_, ok := r.experts[w.ExpertID]
	r.mu.Unlock()
	if !ok {
		return ErrExpertNotFound
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return r.AddWindow(*w)
}

// Activity returns a copy of the audit trail.
func (r *MemoryRepository) Activity() []ActivityEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ActivityEntry(nil), r.activity...)
}

func (r *MemoryRepository) GetExpert(_ context.Context, id uuid.UUID) (*Expert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.experts[id]
	if !ok {
		return nil, ErrExpertNotFound
	}
	return &e, nil
}

func (r *MemoryRepository) ListExperts(_ context.Context) ([]Expert, error) {
	r.mu.Lock()
	experts := make([]Expert, 0, len(r.experts))
	for _, e := range r.experts {
		experts = append(experts, e)
	}
	r.mu.Unlock()

	sort.Slice(experts, func(i, j int) bool {
		if experts[i].Name != experts[j].Name {
			return experts[i].Name < experts[j].Name
		}
		return experts[i].ID.String() < experts[j].ID.String()
	})
	return experts, nil
}

func (r *MemoryRepository) WindowsForDay(_ context.Context, expertID uuid.UUID, day availability.Weekday) ([]availability.Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []availability.Window
	for _, w := range r.windows {
		if w.ExpertID == expertID && w.Day == day {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *MemoryRepository) FindActiveBySlot(_ context.Context, expertID uuid.UUID, date availability.Date, tod availability.TimeOfDay) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.activeBySlotLocked(expertID, date, tod, uuid.Nil); ok {
		return &a, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) FindActiveByCustomer(_ context.Context, email, phone string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.activeByCustomerLocked(email, phone); ok {
		return &a, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) activeBySlotLocked(expertID uuid.UUID, date availability.Date, tod availability.TimeOfDay, except uuid.UUID) (Appointment, bool) {
	for _, a := range r.appointments {
		if a.ID != except && a.Status.Active() && a.ExpertID == expertID && a.Date == date && a.Time == tod {
			return a, true
		}
	}
	return Appointment{}, false
}

func (r *MemoryRepository) activeByCustomerLocked(email, phone string) (Appointment, bool) {
	for _, a := range r.appointments {
		if a.Status.Active() && strings.EqualFold(a.Customer.Email, email) && a.Customer.Phone == phone {
			return a, true
		}
	}
	return Appointment{}, false
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, filter ListFilter) ([]Appointment, int, error) {
	filter = filter.Normalize()

	r.mu.Lock()
	var matched []Appointment
	for _, a := range r.appointments {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.ExpertID != nil && a.ExpertID != *filter.ExpertID {
			continue
		}
		if filter.Date != nil && a.Date != *filter.Date {
			continue
		}
		matched = append(matched, a)
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []Appointment{}, total, nil
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.activeBySlotLocked(a.ExpertID, a.Date, a.Time, uuid.Nil); taken {
		return ErrSlotTaken
	}
	if _, dup := r.activeByCustomerLocked(a.Customer.Email, a.Customer.Phone); dup {
		return ErrCustomerHasActive
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.appointments[a.ID] = *a
	return nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, cancellationReason string, now time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStaleStatus
	}
	a.Status = to
	if to == StatusCancelled {
		a.CancellationReason = cancellationReason
	}
	a.UpdatedAt = now
	r.appointments[id] = a
	if to != StatusApproved {
		r.supersedeLocked(id, now)
	}
	return &a, nil
}

func (r *MemoryRepository) Reassign(_ context.Context, id, fromExpert, toExpert uuid.UUID, status Status, reason string, now time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.ExpertID != fromExpert || a.Status != status {
		return nil, ErrStaleStatus
	}
	if _, taken := r.activeBySlotLocked(toExpert, a.Date, a.Time, a.ID); taken {
		return nil, ErrSlotTaken
	}
	a.ExpertID = toExpert
	a.ReassignmentReason = reason
	a.UpdatedAt = now
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) MarkReminderSent(_ context.Context, id uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if a.Status != StatusApproved || a.ReminderSentAt != nil {
		return ErrStaleStatus
	}
	a.ReminderSentAt = &now
	r.appointments[id] = a
	return nil
}

func (r *MemoryRepository) ListApprovedWithoutReminder(_ context.Context, from, to availability.Date) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status != StatusApproved || a.ReminderSentAt != nil {
			continue
		}
		if a.Date.String() < from.String() || a.Date.String() > to.String() {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *MemoryRepository) DeleteCancelled(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	if a.Status != StatusCancelled {
		return ErrNotCancelled
	}
	delete(r.appointments, id)
	return nil
}

func (r *MemoryRepository) PurgeCancelled(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, a := range r.appointments {
		if a.Status == StatusCancelled {
			delete(r.appointments, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CreateReschedule(_ context.Context, req *RescheduleRequest) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	superseded := r.supersedeLocked(req.AppointmentID, req.CreatedAt)
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	r.reschedules[req.Token] = *req
	return superseded, nil
}

func (r *MemoryRepository) supersedeLocked(appointmentID uuid.UUID, now time.Time) int {
	n := 0
	for token, existing := range r.reschedules {
		if existing.AppointmentID == appointmentID && existing.State == ReschedulePending {
			existing.State = RescheduleSuperseded
			resolvedAt := now
			existing.ResolvedAt = &resolvedAt
			r.reschedules[token] = existing
			n++
		}
	}
	return n
}

func (r *MemoryRepository) GetRescheduleByToken(_ context.Context, token string) (*RescheduleRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reschedules[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &req, nil
}

func (r *MemoryRepository) ResolveReschedule(_ context.Context, token string, approve bool, now time.Time) (*RescheduleResolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.reschedules[token]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if req.State != ReschedulePending {
		return nil, ErrTokenResolved
	}
	a, ok := r.appointments[req.AppointmentID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != StatusApproved {
		return nil, ErrStaleStatus
	}

	previous := a
	if approve {
		if _, taken := r.activeBySlotLocked(a.ExpertID, req.ProposedDate, req.ProposedTime, a.ID); taken {
			return nil, ErrSlotTaken
		}
		a.Date = req.ProposedDate
		a.Time = req.ProposedTime
		a.ReminderSentAt = nil
		a.UpdatedAt = now
		r.appointments[a.ID] = a
		req.State = RescheduleApproved
	} else {
		req.State = RescheduleRejected
	}
	req.ResolvedAt = &now
	r.reschedules[token] = req

	return &RescheduleResolution{Request: req, Appointment: a, Previous: previous}, nil
}

func (r *MemoryRepository) InsertActivity(_ context.Context, entry ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextActivity++
	entry.ID = r.nextActivity
	r.activity = append(r.activity, entry)
	return nil
}
