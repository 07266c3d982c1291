package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/slotlock"
)

const (
	slotKeyPrefix    = "lock:slot:"
	sessionKeyPrefix = "lock:session:"
	expiryIndexKey   = "lock:expiry"

	// Rows outlive their logical expiry so the manager's clock, not Redis,
	// decides when a lock is dead. The grace only bounds memory.
	expiryGrace = time.Minute
)

// SlotLockStore keeps soft locks in Redis: one hash per slot, a set of slot
// keys per session, and a sorted set of expiries used by the lazy sweep.
type SlotLockStore struct {
	client *redis.Client
}

var _ slotlock.Store = (*SlotLockStore)(nil)

func NewSlotLockStore(client *redis.Client) *SlotLockStore {
	return &SlotLockStore{client: client}
}

func slotKey(k slotlock.Key) string {
	return slotKeyPrefix + k.String()
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

var upsertScript = redis.NewScript(`
local previous = redis.call("HGET", KEYS[1], "session")
if previous and previous ~= ARGV[1] then
  redis.call("SREM", ARGV[5] .. previous, KEYS[1])
end
redis.call("HSET", KEYS[1], "session", ARGV[1], "created_at", ARGV[2], "expires_at", ARGV[3])
redis.call("PEXPIREAT", KEYS[1], ARGV[4])
redis.call("SADD", KEYS[2], KEYS[1])
redis.call("PEXPIREAT", KEYS[2], ARGV[4])
redis.call("ZADD", KEYS[3], ARGV[3], KEYS[1])
return 1
`)

func (s *SlotLockStore) Upsert(ctx context.Context, lock slotlock.Lock) error {
	key := slotKey(lock.Key)
	_, err := upsertScript.Run(ctx, s.client,
		[]string{key, sessionKey(lock.SessionID), expiryIndexKey},
		lock.SessionID,
		lock.CreatedAt.UnixMilli(),
		lock.ExpiresAt.UnixMilli(),
		lock.ExpiresAt.Add(expiryGrace).UnixMilli(),
		sessionKeyPrefix,
	).Result()
	if err != nil {
		return fmt.Errorf("upsert slot lock: %w", err)
	}
	return nil
}

func (s *SlotLockStore) Get(ctx context.Context, key slotlock.Key) (slotlock.Lock, error) {
	fields, err := s.client.HGetAll(ctx, slotKey(key)).Result()
	if err != nil {
		return slotlock.Lock{}, fmt.Errorf("get slot lock: %w", err)
	}
	if len(fields) == 0 || fields["session"] == "" {
		return slotlock.Lock{}, slotlock.ErrLockNotFound
	}

	createdAt, err := parseMillis(fields["created_at"])
	if err != nil {
		return slotlock.Lock{}, fmt.Errorf("parse created_at: %w", err)
	}
	expiresAt, err := parseMillis(fields["expires_at"])
	if err != nil {
		return slotlock.Lock{}, fmt.Errorf("parse expires_at: %w", err)
	}

	return slotlock.Lock{
		Key:       key,
		SessionID: fields["session"],
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

var sweepScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1])
for _, key in ipairs(expired) do
  local session = redis.call("HGET", key, "session")
  if session then
    redis.call("SREM", ARGV[2] .. session, key)
  end
  redis.call("DEL", key)
  redis.call("ZREM", KEYS[1], key)
end
return #expired
`)

func (s *SlotLockStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := sweepScript.Run(ctx, s.client, []string{expiryIndexKey}, now.UnixMilli(), sessionKeyPrefix).Int()
	if err != nil {
		return 0, fmt.Errorf("sweep slot locks: %w", err)
	}
	return n, nil
}

var releaseScript = redis.NewScript(`
local keys = redis.call("SMEMBERS", KEYS[1])
local released = 0
for _, key in ipairs(keys) do
  if redis.call("HGET", key, "session") == ARGV[1] then
    redis.call("DEL", key)
    redis.call("ZREM", KEYS[2], key)
    released = released + 1
  end
end
redis.call("DEL", KEYS[1])
return released
`)

func (s *SlotLockStore) DeleteBySession(ctx context.Context, sessionID string) (int, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{sessionKey(sessionID), expiryIndexKey}, sessionID).Int()
	if err != nil {
		return 0, fmt.Errorf("release slot locks: %w", err)
	}
	return n, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
