package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector backed by Prometheus counters.
type Prometheus struct {
	bookings         *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	lockAcquisitions *prometheus.CounterVec
	locksSwept       prometheus.Counter
	notifications    *prometheus.CounterVec
	activityFailures prometheus.Counter
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus registers the booking collectors on reg. A nil reg uses
// prometheus.DefaultRegisterer and an empty namespace defaults to "booking".
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "booking"
	}

	p := &Prometheus{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Appointment status transitions.",
		}, []string{"from", "to"}),
		lockAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slot_locks",
			Name:      "acquisitions_total",
			Help:      "Soft lock acquisitions, labelled by whether another session held the slot.",
		}, []string{"contended"}),
		locksSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slot_locks",
			Name:      "swept_total",
			Help:      "Expired soft locks removed by sweeps.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "dispatched_total",
			Help:      "Notification dispatch results by kind.",
		}, []string{"kind", "result"}),
		activityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity_log",
			Name:      "write_failures_total",
			Help:      "Audit entries that could not be written.",
		}),
	}

	for _, c := range []prometheus.Collector{
		p.bookings, p.transitions, p.lockAcquisitions, p.locksSwept, p.notifications, p.activityFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Prometheus) RecordBooking(outcome string) {
	p.bookings.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) RecordTransition(from, to string) {
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *Prometheus) RecordLockAcquired(contended bool) {
	p.lockAcquisitions.WithLabelValues(strconv.FormatBool(contended)).Inc()
}

func (p *Prometheus) RecordLocksSwept(count int) {
	if count > 0 {
		p.locksSwept.Add(float64(count))
	}
}

func (p *Prometheus) RecordNotification(kind, result string) {
	p.notifications.WithLabelValues(kind, result).Inc()
}

func (p *Prometheus) RecordActivityLogFailure() {
	p.activityFailures.Inc()
}
