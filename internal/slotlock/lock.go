package slotlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
)

// DefaultTTL is how long a soft lock lives after its last acquisition.
const DefaultTTL = 90 * time.Second

var (
	ErrLockNotFound   = errors.New("slot lock not found")
	ErrSessionMissing = errors.New("session id is required")
)

// Key identifies a bookable slot.
type Key struct {
	ExpertID uuid.UUID
	Date     availability.Date
	Time     availability.TimeOfDay
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.ExpertID, k.Date, k.Time)
}

// Lock is an advisory reservation of a slot by one client session.
type Lock struct {
	Key       Key
	SessionID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Live reports whether the lock is still in force at now.
func (l Lock) Live(now time.Time) bool {
	return !l.ExpiresAt.Before(now)
}

// Store persists locks. At most one lock exists per key; Upsert replaces it.
type Store interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Upsert(ctx context.Context, lock Lock) error
	// Get returns ErrLockNotFound when no row exists for key.
	Get(ctx context.Context, key Key) (Lock, error)
	DeleteBySession(ctx context.Context, sessionID string) (int, error)
}
