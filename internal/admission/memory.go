package admission

import (
	"context"
	"sync"
	"time"
)

type memoryCounter struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

// MemoryCounterStore is a process-local CounterStore for single-instance
// deployments and tests. Multi-instance deployments need the Redis store so
// all engines see the same counters.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

// NewMemoryCounterStore creates an empty MemoryCounterStore.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

func (s *MemoryCounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.live(key)
	if c == nil {
		c = &memoryCounter{}
		if ttl > 0 {
			c.expiresAt = s.now().Add(ttl)
		}
		s.counters[key] = c
	}
	c.value++
	return c.value, nil
}

func (s *MemoryCounterStore) Decrement(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.live(key); c != nil && c.value > 0 {
		c.value--
	}
	return nil
}

func (s *MemoryCounterStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c := s.live(key); c != nil {
		return c.value, nil
	}
	return 0, nil
}

// live returns the counter for key, dropping it first if its window expired.
// Caller must hold mu.
func (s *MemoryCounterStore) live(key string) *memoryCounter {
	c, ok := s.counters[key]
	if !ok {
		return nil
	}
	if !c.expiresAt.IsZero() && s.now().After(c.expiresAt) {
		delete(s.counters, key)
		return nil
	}
	return c
}

var _ CounterStore = (*MemoryCounterStore)(nil)
