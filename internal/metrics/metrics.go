package metrics

// Collector receives booking engine measurements. Implementations must be
// safe for concurrent use.
type Collector interface {
	// RecordBooking counts a booking attempt by outcome (created, validation,
	// not_found, conflict, internal).
	RecordBooking(outcome string)
	RecordTransition(from, to string)
	RecordLockAcquired(contended bool)
	RecordLocksSwept(count int)
	RecordNotification(kind, result string)
	RecordActivityLogFailure()
}

// Nop discards every measurement.
type Nop struct{}

var _ Collector = Nop{}

func (Nop) RecordBooking(string)              {}
func (Nop) RecordTransition(string, string)   {}
func (Nop) RecordLockAcquired(bool)           {}
func (Nop) RecordLocksSwept(int)              {}
func (Nop) RecordNotification(string, string) {}
func (Nop) RecordActivityLogFailure()         {}

// OrNop returns c, or Nop when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return Nop{}
	}
	return c
}
