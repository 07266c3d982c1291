package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/logging"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/metrics"
)

// Publisher hands an event to its transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher decouples callers from the transport with a bounded queue and
// a fixed pool of workers. Notify never blocks; a full queue drops the event.
type Dispatcher struct {
	pub            Publisher
	queue          chan Event
	workers        int
	publishTimeout time.Duration
	logger         *slog.Logger
	metrics        metrics.Collector

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type DispatcherOptions struct {
	Workers        int
	Buffer         int
	PublishTimeout time.Duration
	Logger         *slog.Logger
	Metrics        metrics.Collector
}

func NewDispatcher(pub Publisher, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		pub:            pub,
		queue:          make(chan Event, opts.Buffer),
		workers:        opts.Workers,
		publishTimeout: opts.PublishTimeout,
		logger:         opts.Logger,
		metrics:        metrics.OrNop(opts.Metrics),
	}
}

// Start launches the workers. They drain the queue until Close is called.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for ev := range d.queue {
				d.publish(ev)
			}
		}()
	}
}

func (d *Dispatcher) publish(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.publishTimeout)
	defer cancel()

	if err := d.pub.Publish(ctx, ev); err != nil {
		d.metrics.RecordNotification(string(ev.Kind), "failed")
		d.logger.Warn("notification publish failed",
			"kind", ev.Kind, "event_id", ev.ID, "appointment_id", ev.Appointment.ID, "error", err)
		return
	}
	d.metrics.RecordNotification(string(ev.Kind), "published")
}

// Notify enqueues ev without blocking.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	logger := logging.FromContext(ctx, d.logger)
	if d.closed {
		d.metrics.RecordNotification(string(ev.Kind), "dropped")
		logger.Warn("notification dropped after shutdown", "kind", ev.Kind, "event_id", ev.ID)
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.metrics.RecordNotification(string(ev.Kind), "dropped")
		logger.Warn("notification queue full, dropping event", "kind", ev.Kind, "event_id", ev.ID)
	}
}

// Close stops accepting events and waits for queued ones to drain or for
// ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
