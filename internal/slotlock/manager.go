package slotlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/logging"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/metrics"
)

// Manager hands out soft locks. It never refuses an acquisition: the lock
// only tells other browsers that someone is filling in the booking form.
// Expired rows are swept lazily on Acquire and IsLocked.
type Manager struct {
	store   Store
	now     func() time.Time
	metrics metrics.Collector
	logger  *slog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithMetrics(c metrics.Collector) Option {
	return func(m *Manager) { m.metrics = metrics.OrNop(c) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		now:     time.Now,
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration { return DefaultTTL }

// Acquire sweeps expired locks and upserts a lock for key owned by sessionID.
// Re-acquiring by the same session renews the expiry.
func (m *Manager) Acquire(ctx context.Context, key Key, sessionID string) (Lock, error) {
	if sessionID == "" {
		return Lock{}, ErrSessionMissing
	}

	now := m.now()
	if _, err := m.sweep(ctx, now); err != nil {
		return Lock{}, err
	}

	contended := false
	existing, err := m.store.Get(ctx, key)
	switch {
	case err == nil:
		contended = existing.SessionID != sessionID && existing.Live(now)
	case !errors.Is(err, ErrLockNotFound):
		return Lock{}, fmt.Errorf("load slot lock: %w", err)
	}

	lock := Lock{
		Key:       key,
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultTTL),
	}
	if err := m.store.Upsert(ctx, lock); err != nil {
		return Lock{}, fmt.Errorf("upsert slot lock: %w", err)
	}

	m.metrics.RecordLockAcquired(contended)
	if contended {
		logging.FromContext(ctx, m.logger).Debug("slot lock taken over",
			"slot", key.String(), "previous_session", existing.SessionID)
	}

	return lock, nil
}

// IsLocked reports whether a live lock on key is held by a session other
// than excludingSessionID.
func (m *Manager) IsLocked(ctx context.Context, key Key, excludingSessionID string) (bool, error) {
	now := m.now()
	if _, err := m.sweep(ctx, now); err != nil {
		return false, err
	}

	lock, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrLockNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load slot lock: %w", err)
	}

	return lock.SessionID != excludingSessionID && lock.Live(now), nil
}

// Release deletes every lock owned by sessionID. It returns ErrLockNotFound
// when the session held nothing.
func (m *Manager) Release(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionMissing
	}
	n, err := m.store.DeleteBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("release slot locks: %w", err)
	}
	if n == 0 {
		return ErrLockNotFound
	}
	return nil
}

// Sweep removes every expired lock. Background workers call it so an idle
// system does not keep stale rows around.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.sweep(ctx, m.now())
}

func (m *Manager) sweep(ctx context.Context, now time.Time) (int, error) {
	n, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep expired slot locks: %w", err)
	}
	m.metrics.RecordLocksSwept(n)
	return n, nil
}
