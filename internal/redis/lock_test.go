package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/slotlock"
)

func TestKeyLayout(t *testing.T) {
	expert := uuid.MustParse("8f14e45f-ceea-4e6f-9e36-2d5a1e0b7c11")
	date, err := availability.ParseDate("2026-10-19")
	require.NoError(t, err)

	key := slotlock.Key{ExpertID: expert, Date: date, Time: availability.NewTimeOfDay(9, 0)}
	assert.Equal(t, "lock:slot:8f14e45f-ceea-4e6f-9e36-2d5a1e0b7c11:2026-10-19:09:00", slotKey(key))
	assert.Equal(t, "lock:session:abc", sessionKey("abc"))
}

func TestParseMillis(t *testing.T) {
	ts, err := parseMillis("1760515200000")
	require.NoError(t, err)
	assert.Equal(t, int64(1760515200000), ts.UnixMilli())

	_, err = parseMillis("later")
	require.Error(t, err)
}

// TestSlotLockStore_Redis runs against a real server when REDIS_TEST_ADDR is set.
func TestSlotLockStore_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, ClientOptions{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewSlotLockStore(rdb)
	date, _ := availability.ParseDate("2026-10-19")
	key := slotlock.Key{ExpertID: uuid.New(), Date: date, Time: availability.NewTimeOfDay(9, 0)}
	now := time.Now().Truncate(time.Millisecond)
	session := "test-" + uuid.NewString()
	other := "test-" + uuid.NewString()

	require.NoError(t, store.Upsert(ctx, slotlock.Lock{
		Key: key, SessionID: session, CreatedAt: now, ExpiresAt: now.Add(slotlock.DefaultTTL),
	}))

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, session, got.SessionID)
	assert.True(t, got.ExpiresAt.Equal(now.Add(slotlock.DefaultTTL)))

	// another session takes the row over
	require.NoError(t, store.Upsert(ctx, slotlock.Lock{
		Key: key, SessionID: other, CreatedAt: now, ExpiresAt: now.Add(slotlock.DefaultTTL),
	}))
	n, err := store.DeleteBySession(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = store.DeleteExpired(ctx, now.Add(2*slotlock.DefaultTTL))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	_, err = store.Get(ctx, key)
	require.ErrorIs(t, err, slotlock.ErrLockNotFound)
}
