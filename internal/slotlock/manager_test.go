package slotlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/testfixtures"
)

func testKey(t *testing.T) Key {
	t.Helper()
	d, err := availability.ParseDate("2026-10-19")
	require.NoError(t, err)
	return Key{ExpertID: uuid.New(), Date: d, Time: availability.NewTimeOfDay(9, 0)}
}

func newTestManager(t *testing.T) (*Manager, *MemoryStore, *testfixtures.Clock) {
	t.Helper()
	clock := testfixtures.NewClock(time.Time{})
	store := NewMemoryStore()
	return NewManager(store, WithClock(clock.Now)), store, clock
}

func TestAcquire_ExpiresAfterNinetySeconds(t *testing.T) {
	m, _, clock := newTestManager(t)
	key := testKey(t)

	lock, err := m.Acquire(context.Background(), key, "session-a")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, lock.ExpiresAt.Sub(lock.CreatedAt))
	assert.Equal(t, clock.Now(), lock.CreatedAt)
}

func TestAcquire_RequiresSession(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, err := m.Acquire(context.Background(), testKey(t), "")
	require.ErrorIs(t, err, ErrSessionMissing)
}

func TestAcquire_SameSessionRenews(t *testing.T) {
	m, store, clock := newTestManager(t)
	key := testKey(t)
	ctx := context.Background()

	first, err := m.Acquire(ctx, key, "session-a")
	require.NoError(t, err)

	clock.Advance(60 * time.Second)
	second, err := m.Acquire(ctx, key, "session-a")
	require.NoError(t, err)

	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
	assert.Equal(t, 1, store.Len())
}

func TestAcquire_SecondSessionIsNotRefused(t *testing.T) {
	m, _, _ := newTestManager(t)
	key := testKey(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, key, "session-a")
	require.NoError(t, err)

	_, err = m.Acquire(ctx, key, "session-b")
	require.NoError(t, err)

	locked, err := m.IsLocked(ctx, key, "session-a")
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = m.IsLocked(ctx, key, "session-b")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestIsLocked_OwnSessionIsExcluded(t *testing.T) {
	m, _, _ := newTestManager(t)
	key := testKey(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, key, "session-a")
	require.NoError(t, err)

	locked, err := m.IsLocked(ctx, key, "session-a")
	require.NoError(t, err)
	assert.False(t, locked)

	locked, err = m.IsLocked(ctx, key, "session-b")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestIsLocked_FalseAfterExpiry(t *testing.T) {
	m, store, clock := newTestManager(t)
	key := testKey(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, key, "session-a")
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	locked, err := m.IsLocked(ctx, key, "session-b")
	require.NoError(t, err)
	assert.True(t, locked, "lock is live up to and including expiresAt")

	clock.Advance(time.Second)
	locked, err = m.IsLocked(ctx, key, "session-b")
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, 0, store.Len(), "expired rows are swept lazily")
}

func TestIsLocked_UnknownSlot(t *testing.T) {
	m, _, _ := newTestManager(t)

	locked, err := m.IsLocked(context.Background(), testKey(t), "session-a")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestRelease_BySession(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	key := testKey(t)

	_, err := m.Acquire(ctx, key, "session-a")
	require.NoError(t, err)
	_, err = m.Acquire(ctx, testKey(t), "session-b")
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, "session-a"))
	assert.Equal(t, 1, store.Len())

	locked, err := m.IsLocked(ctx, key, "session-b")
	require.NoError(t, err)
	assert.False(t, locked)

	require.ErrorIs(t, m.Release(ctx, "session-a"), ErrLockNotFound)
	require.ErrorIs(t, m.Release(ctx, ""), ErrSessionMissing)
}

func TestSweep_IdleSystem(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Acquire(ctx, testKey(t), "session")
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 3, store.Len(), "no background timer removes rows")

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, store.Len())
}

type failingStore struct {
	*MemoryStore
}

func (f *failingStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, errors.New("store down")
}

func TestAcquire_StoreFailure(t *testing.T) {
	m := NewManager(&failingStore{MemoryStore: NewMemoryStore()})

	_, err := m.Acquire(context.Background(), testKey(t), "session-a")
	require.Error(t, err)
}
