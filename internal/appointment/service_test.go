package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/notify"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/slotlock"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/testfixtures"
)

// 2026-10-19 is the Monday after testfixtures.ReferenceTime.
const monday = "2026-10-19"

type env struct {
	svc   *Service
	repo  *MemoryRepository
	rec   *notify.Recorder
	clock *testfixtures.Clock
	e1    Expert
	e2    Expert
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()

	repo := NewMemoryRepository()
	e1 := Expert{ID: uuid.New(), Name: "Mert Demir", Email: "mert@example.com"}
	e2 := Expert{ID: uuid.New(), Name: "Selin Yildiz", Email: "selin@example.com"}
	repo.AddExpert(e1)
	repo.AddExpert(e2)

	addWindow(t, repo, e1.ID, availability.Monday, "09:00", "11:00")
	addWindow(t, repo, e1.ID, availability.Monday, "14:00", "15:00")
	addWindow(t, repo, e2.ID, availability.Monday, "09:00", "10:00")

	clock := testfixtures.NewClock(time.Time{})
	rec := &notify.Recorder{}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc := NewService(repo, StaticSettings{MinBookingHours: 3}, rec, Config{
		Location:        time.UTC,
		MinBookingHours: 3,
		PublicBaseURL:   "https://randevu.example.com/",
	}, opts...)

	return &env{svc: svc, repo: repo, rec: rec, clock: clock, e1: e1, e2: e2}
}

func addWindow(t *testing.T, repo *MemoryRepository, expertID uuid.UUID, day availability.Weekday, start, end string) {
	t.Helper()
	s, err := availability.ParseTimeOfDay(start)
	require.NoError(t, err)
	e, err := availability.ParseTimeOfDay(end)
	require.NoError(t, err)
	w, err := availability.NewWindow(expertID, day, s, e)
	require.NoError(t, err)
	require.NoError(t, repo.AddWindow(w))
}

func bookingFor(expertID uuid.UUID, email, tod string) BookingRequest {
	return BookingRequest{
		ExpertID: expertID,
		Customer: Customer{Name: "Ayse Kaya", Email: email, Phone: "5551234567"},
		TicketNo: "INC0123456",
		Date:     monday,
		Time:     tod,
		Actor:    Actor{ID: "u-1", Name: "Helpdesk"},
	}
}

func (e *env) book(t *testing.T, req BookingRequest) *Appointment {
	t.Helper()
	appt, err := e.svc.Book(context.Background(), req)
	require.NoError(t, err)
	return appt
}

func (e *env) approved(t *testing.T, req BookingRequest) *Appointment {
	t.Helper()
	appt := e.book(t, req)
	approved, err := e.svc.Approve(context.Background(), appt.ID, Actor{})
	require.NoError(t, err)
	return approved
}

func TestBook_SlotScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.book(t, bookingFor(e.e1.ID, "a@x.com", "09:00"))
	assert.Equal(t, StatusPending, first.Status)

	_, err := e.svc.Book(ctx, bookingFor(e.e1.ID, "b@x.com", "09:00"))
	require.ErrorIs(t, err, ErrSlotTaken)
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = e.svc.Book(ctx, bookingFor(e.e1.ID, "b@x.com", "09:30"))
	require.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = e.svc.Cancel(ctx, first.ID, "customer no longer needs it", Actor{})
	require.NoError(t, err)

	again := e.book(t, bookingFor(e.e1.ID, "b@x.com", "09:00"))
	assert.NotEqual(t, first.ID, again.ID)
}

func TestBook_DuplicateActiveCustomer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.book(t, bookingFor(e.e1.ID, "a@x.com", "09:00"))

	// same customer, other expert and slot; email match ignores case
	_, err := e.svc.Book(ctx, bookingFor(e.e2.ID, "A@X.com", "09:00"))
	require.ErrorIs(t, err, ErrCustomerHasActive)
	assert.Equal(t, KindConflict, KindOf(err))

	_, err = e.svc.Cancel(ctx, first.ID, "duplicate request", Actor{})
	require.NoError(t, err)

	e.book(t, bookingFor(e.e2.ID, "a@x.com", "09:00"))
}

func TestBook_DuplicateCustomerIgnoresFormatting(t *testing.T) {
	tests := []struct {
		name         string
		email, phone string
	}{
		{"upper case email", "A@X.COM", "5551234567"},
		{"spaced phone", "a@x.com", "555 123 4567"},
		{"punctuated phone", "a@x.com", "(555) 123-4567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			first := e.book(t, bookingFor(e.e1.ID, "a@x.com", "09:00"))
			assert.Equal(t, "5551234567", first.Customer.Phone)

			req := bookingFor(e.e2.ID, tt.email, "09:00")
			req.Customer.Phone = tt.phone
			_, err := e.svc.Book(context.Background(), req)
			require.ErrorIs(t, err, ErrCustomerHasActive)
		})
	}
}

func TestBook_RejectsDisplayNameEmail(t *testing.T) {
	e := newEnv(t)
	req := bookingFor(e.e1.ID, "Ayse Kaya <a@x.com>", "09:00")
	_, err := e.svc.Book(context.Background(), req)
	assert.Equal(t, "invalid_email", CodeOf(err))
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"5551234567", "5551234567", true},
		{" +90 555 123 45 67 ", "+905551234567", true},
		{"(555) 123-4567", "5551234567", true},
		{"555.123.4567", "5551234567", true},
		{"555+1234567", "", false},
		{"555-CALL-NOW", "", false},
		{"12345", "", false},
		{"1234567890123456", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrValidation, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  Ayse.Kaya@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "ayse.kaya@example.com", got)

	for _, bad := range []string{"Ayse <a@x.com>", "a@", "not-an-email"} {
		_, err := NormalizeEmail(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
}

func TestBook_ValidationOrder(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name   string
		mutate func(*BookingRequest)
		want   error
	}{
		{"missing name", func(r *BookingRequest) { r.Customer.Name = " " }, ErrValidation},
		{"bad email", func(r *BookingRequest) { r.Customer.Email = "not-an-email" }, ErrValidation},
		{"missing phone", func(r *BookingRequest) { r.Customer.Phone = "" }, ErrValidation},
		{"bad date", func(r *BookingRequest) { r.Date = "19.10.2026" }, ErrValidation},
		{"bad time", func(r *BookingRequest) { r.Time = "9am" }, ErrValidation},
		{"short ticket", func(r *BookingRequest) { r.TicketNo = "INC012345" }, ErrInvalidTicket},
		{"long ticket", func(r *BookingRequest) { r.TicketNo = "INC01234567" }, ErrInvalidTicket},
		{"wrong prefix", func(r *BookingRequest) { r.TicketNo = "INC1123456" }, ErrInvalidTicket},
		{"lowercase ticket", func(r *BookingRequest) { r.TicketNo = "inc0123456" }, ErrInvalidTicket},
		// ticket is checked before the expert
		{"bad ticket and unknown expert", func(r *BookingRequest) {
			r.TicketNo = "REQ0123456"
			r.ExpertID = uuid.New()
		}, ErrInvalidTicket},
		{"unknown expert", func(r *BookingRequest) { r.ExpertID = uuid.New() }, ErrExpertNotFound},
		{"weekend", func(r *BookingRequest) { r.Date = "2026-10-18" }, ErrSlotUnavailable},
		{"inside window", func(r *BookingRequest) { r.Time = "10:00" }, ErrSlotUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := bookingFor(e.e1.ID, "a@x.com", "09:00")
			tt.mutate(&req)
			_, err := e.svc.Book(context.Background(), req)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBook_LeadTime(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// two hours before the slot
	e.clock.Set(time.Date(2026, time.October, 19, 7, 0, 0, 0, time.UTC))
	_, err := e.svc.Book(ctx, bookingFor(e.e1.ID, "a@x.com", "09:00"))
	require.ErrorIs(t, err, ErrLeadTime)
	assert.Contains(t, err.Error(), "3 hours")

	// exactly three hours is enough
	e.clock.Set(time.Date(2026, time.October, 19, 6, 0, 0, 0, time.UTC))
	e.book(t, bookingFor(e.e1.ID, "a@x.com", "09:00"))
}

type brokenSettings struct{}

func (brokenSettings) MinimumBookingHours(context.Context) (int, error) {
	return 0, errors.New("settings table missing")
}

func TestBook_LeadTimeSettings(t *testing.T) {
	e := newEnv(t)
	e.clock.Set(time.Date(2026, time.October, 19, 7, 0, 0, 0, time.UTC))

	e.svc.settings = StaticSettings{MinBookingHours: 1}
	e.book(t, bookingFor(e.e1.ID, "a@x.com", "09:00"))

	// falls back to the configured default
	e.svc.settings = brokenSettings{}
	_, err := e.svc.Book(context.Background(), bookingFor(e.e2.ID, "b@x.com", "09:00"))
	require.ErrorIs(t, err, ErrLeadTime)
}

func TestBook_NotifiesExpertAndLogsActivity(t *testing.T) {
	e := newEnv(t)
	appt := e.book(t, bookingFor(e.e1.ID, " A@X.com ", "14:00"))

	assert.Equal(t, "a@x.com", appt.Customer.Email)

	events := e.rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindNewAppointment, events[0].Kind)
	assert.Equal(t, e.e1.Email, events[0].To.Email)
	assert.Equal(t, "14:00", events[0].Appointment.Time)
	assert.NotEmpty(t, events[0].ID)

	activity := e.repo.Activity()
	require.Len(t, activity, 1)
	assert.Equal(t, ActionCreated, activity[0].Action)
	assert.Equal(t, "u-1", activity[0].ActorID)
	assert.Equal(t, appt.ID.String(), activity[0].EntityID)
}

func TestBook_ReleasesSessionLock(t *testing.T) {
	store := slotlock.NewMemoryStore()
	clock := testfixtures.NewClock(time.Time{})
	locks := slotlock.NewManager(store, slotlock.WithClock(clock.Now))
	e := newEnv(t, WithSlotLocks(locks))

	date, _ := availability.ParseDate(monday)
	key := slotlock.Key{ExpertID: e.e1.ID, Date: date, Time: availability.NewTimeOfDay(9, 0)}
	_, err := locks.Acquire(context.Background(), key, "session-a")
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	req := bookingFor(e.e1.ID, "a@x.com", "09:00")
	req.SessionID = "session-a"
	e.book(t, req)
	assert.Equal(t, 0, store.Len())

	// a session without a lock still books
	req = bookingFor(e.e1.ID, "b@x.com", "14:00")
	req.SessionID = "session-b"
	e.book(t, req)
}

// staleReadRepository hides existing appointments from the pre-insert
// checks, as a concurrent transaction that has not committed yet would.
type staleReadRepository struct {
	*MemoryRepository
}

func (staleReadRepository) FindActiveBySlot(context.Context, uuid.UUID, availability.Date, availability.TimeOfDay) (*Appointment, error) {
	return nil, ErrAppointmentNotFound
}

func (staleReadRepository) FindActiveByCustomer(context.Context, string, string) (*Appointment, error) {
	return nil, ErrAppointmentNotFound
}

func TestBook_InsertEnforcesUniqueness(t *testing.T) {
	e := newEnv(t)
	svc := NewService(staleReadRepository{e.repo}, nil, e.rec, Config{Location: time.UTC, MinBookingHours: 3},
		WithClock(e.clock.Now))
	ctx := context.Background()

	_, err := svc.Book(ctx, bookingFor(e.e1.ID, "a@x.com", "09:00"))
	require.NoError(t, err)

	_, err = svc.Book(ctx, bookingFor(e.e1.ID, "b@x.com", "09:00"))
	require.ErrorIs(t, err, ErrSlotTaken)

	_, err = svc.Book(ctx, bookingFor(e.e2.ID, "a@x.com", "09:00"))
	require.ErrorIs(t, err, ErrCustomerHasActive)
}

func TestBook_ConcurrentSameSlot(t *testing.T) {
	e := newEnv(t)

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		conflict int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := bookingFor(e.e1.ID, uuid.NewString()+"@x.com", "09:00")
			_, err := e.svc.Book(context.Background(), req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrConflict):
				conflict++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, conflict)
}

type failingActivityRepository struct {
	*MemoryRepository
}

func (failingActivityRepository) InsertActivity(context.Context, ActivityEntry) error {
	return errors.New("activity_logs is read only")
}

func TestActivityFailureDoesNotBlock(t *testing.T) {
	e := newEnv(t)
	svc := NewService(failingActivityRepository{e.repo}, nil, e.rec, Config{Location: time.UTC, MinBookingHours: 3},
		WithClock(e.clock.Now))

	appt, err := svc.Book(context.Background(), bookingFor(e.e1.ID, "a@x.com", "09:00"))
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), appt.ID, Actor{})
	require.NoError(t, err)
	assert.Len(t, e.rec.Events(), 2)
}

func TestListAppointments(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.book(t, bookingFor(e.e1.ID, "a@x.com", "09:00"))
	e.clock.Advance(time.Minute)
	e.book(t, bookingFor(e.e1.ID, "b@x.com", "14:00"))
	e.clock.Advance(time.Minute)
	e.book(t, bookingFor(e.e2.ID, "c@x.com", "09:00"))
	_, err := e.svc.Approve(ctx, a.ID, Actor{})
	require.NoError(t, err)

	page, err := e.svc.ListAppointments(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, "c@x.com", page.Items[0].Customer.Email)

	approved := StatusApproved
	page, err = e.svc.ListAppointments(ctx, ListFilter{Status: &approved})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, a.ID, page.Items[0].ID)

	page, err = e.svc.ListAppointments(ctx, ListFilter{ExpertID: &e.e1.ID, Limit: 1, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, a.ID, page.Items[0].ID)

	_, err = e.svc.GetAppointment(ctx, uuid.New())
	require.ErrorIs(t, err, ErrAppointmentNotFound)
}
