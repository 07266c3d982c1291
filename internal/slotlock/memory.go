package slotlock

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps locks in process. It backs single-instance deployments
// and tests; multi-instance deployments use the Redis store.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[Key]Lock
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[Key]Lock)}
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, l := range s.locks {
		if !l.Live(now) {
			delete(s.locks, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Upsert(_ context.Context, lock Lock) error {
	s.mu.Lock()
	s.locks[lock.Key] = lock
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		return Lock{}, ErrLockNotFound
	}
	return l, nil
}

func (s *MemoryStore) DeleteBySession(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, l := range s.locks {
		if l.SessionID == sessionID {
			delete(s.locks, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of rows held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
