package appointment

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/logging"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/metrics"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/notify"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/slotlock"
)

// Activity log actions.
const (
	ActionCreated            = "APPOINTMENT_CREATED"
	ActionApproved           = "APPOINTMENT_APPROVED"
	ActionCancelled          = "APPOINTMENT_CANCELLED"
	ActionCompleted          = "APPOINTMENT_COMPLETED"
	ActionDeleted            = "APPOINTMENT_DELETED"
	ActionPurged             = "APPOINTMENTS_PURGED"
	ActionReminderSent       = "APPOINTMENT_REMINDER_SENT"
	ActionReassigned         = "APPOINTMENT_REASSIGNED"
	ActionRescheduleProposed = "RESCHEDULE_PROPOSED"
	ActionRescheduleApproved = "RESCHEDULE_APPROVED"
	ActionRescheduleRejected = "RESCHEDULE_REJECTED"
)

const entityAppointment = "appointment"

// Notifier accepts notifications for asynchronous delivery. It must not block.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event)
}

type Config struct {
	Location        *time.Location
	MinBookingHours int    // used when the settings collaborator fails
	PublicBaseURL   string // prefix for reschedule links sent to customers
}

// Service is the booking engine: validator, state machine, reassignment and
// reschedule negotiation over one shared Repository.
type Service struct {
	repo     Repository
	index    *availability.Index
	locks    *slotlock.Manager
	settings Settings
	notifier Notifier
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
	metrics  metrics.Collector
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(c metrics.Collector) Option {
	return func(s *Service) { s.metrics = metrics.OrNop(c) }
}

// WithSlotLocks lets a successful booking release the booking session's lock.
func WithSlotLocks(m *slotlock.Manager) Option {
	return func(s *Service) { s.locks = m }
}

func NewService(repo Repository, settings Settings, notifier Notifier, cfg Config, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MinBookingHours < 0 {
		cfg.MinBookingHours = 0
	}
	if settings == nil {
		settings = StaticSettings{MinBookingHours: cfg.MinBookingHours}
	}
	s := &Service{
		repo:     repo,
		index:    availability.NewIndex(repo),
		settings: settings,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		metrics:  metrics.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Availability() *availability.Index {
	return s.index
}

func (s *Service) Location() *time.Location {
	return s.cfg.Location
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// recordActivity appends an audit entry. Failures are logged, never returned.
func (s *Service) recordActivity(ctx context.Context, actor Actor, action string, entityID uuid.UUID, details map[string]any) {
	actor = actor.OrSystem()

	data, err := json.Marshal(details)
	if err != nil {
		s.log(ctx).Warn("failed to marshal activity details", "action", action, "error", err)
		data = nil
	}

	entry := ActivityEntry{
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Action:     action,
		EntityType: entityAppointment,
		EntityID:   entityID.String(),
		Details:    data,
		CreatedAt:  s.now(),
	}
	if err := s.repo.InsertActivity(ctx, entry); err != nil {
		s.metrics.RecordActivityLogFailure()
		s.log(ctx).Warn("failed to insert activity log", "action", action, "entity_id", entityID, "error", err)
	}
}

func (s *Service) send(ctx context.Context, ev notify.Event) {
	if s.notifier == nil || ev.To.Email == "" {
		return
	}
	ev.ID = uuid.NewString()
	ev.OccurredAt = s.now()
	s.notifier.Notify(ctx, ev)
}

// expertFor loads an expert for notification wording. A missing expert
// degrades to an empty recipient rather than failing the operation.
func (s *Service) expertFor(ctx context.Context, id uuid.UUID) Expert {
	e, err := s.repo.GetExpert(ctx, id)
	if err != nil {
		s.log(ctx).Warn("failed to load expert for notification", "expert_id", id, "error", err)
		return Expert{ID: id}
	}
	return *e
}

func (s *Service) view(a *Appointment, e Expert) notify.AppointmentView {
	return notify.AppointmentView{
		ID:            a.ID.String(),
		ExpertName:    e.Name,
		ExpertEmail:   e.Email,
		CustomerName:  a.Customer.Name,
		CustomerEmail: a.Customer.Email,
		CustomerPhone: a.Customer.Phone,
		TicketNo:      a.TicketNo,
		Date:          a.Date.String(),
		Time:          a.Time.String(),
		StartsAt:      a.StartsAt(s.cfg.Location),
		Status:        string(a.Status),
		Notes:         a.Notes,
	}
}

func customerRecipient(a *Appointment) notify.Recipient {
	return notify.Recipient{Name: a.Customer.Name, Email: a.Customer.Email}
}

func expertRecipient(e Expert) notify.Recipient {
	return notify.Recipient{Name: e.Name, Email: e.Email}
}

func (s *Service) ListExperts(ctx context.Context) ([]Expert, error) {
	experts, err := s.repo.ListExperts(ctx)
	if err != nil {
		return nil, wrapStore("list experts", err)
	}
	return experts, nil
}

// GetAppointment fetches one appointment.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, wrapStore("get appointment", err)
	}
	return a, nil
}

// ListAppointments returns one page of appointments matching filter.
func (s *Service) ListAppointments(ctx context.Context, filter ListFilter) (*Page, error) {
	filter = filter.Normalize()
	items, total, err := s.repo.ListAppointments(ctx, filter)
	if err != nil {
		return nil, wrapStore("list appointments", err)
	}
	return &Page{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// wrapStore keeps engine errors as they are and classifies anything else as
// internal.
func wrapStore(op string, err error) error {
	if KindOf(err) != KindInternal {
		return err
	}
	return internalError(op, err)
}
