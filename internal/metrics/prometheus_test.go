package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop_DoesNotPanic(t *testing.T) {
	var c Collector = Nop{}
	require.NotPanics(t, func() {
		c.RecordBooking("created")
		c.RecordTransition("pending", "approved")
		c.RecordLockAcquired(true)
		c.RecordLocksSwept(-1)
		c.RecordNotification("approved", "sent")
		c.RecordActivityLogFailure()
	})
}

func TestOrNop(t *testing.T) {
	assert.IsType(t, Nop{}, OrNop(nil))

	p, err := NewPrometheus(prometheus.NewRegistry(), "")
	require.NoError(t, err)
	assert.Same(t, p, OrNop(p))
}

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg, "test")
	require.NoError(t, err)

	p.RecordBooking("created")
	p.RecordBooking("created")
	p.RecordBooking("conflict")
	p.RecordTransition("pending", "approved")
	p.RecordLockAcquired(false)
	p.RecordLocksSwept(3)
	p.RecordLocksSwept(0)
	p.RecordActivityLogFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(p.bookings.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.bookings.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.transitions.WithLabelValues("pending", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.lockAcquisitions.WithLabelValues("false")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.locksSwept))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.activityFailures))
}

func TestPrometheus_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg, "dup")
	require.NoError(t, err)

	_, err = NewPrometheus(reg, "dup")
	require.Error(t, err)
}
