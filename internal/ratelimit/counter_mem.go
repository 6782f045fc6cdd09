package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memWindowKey struct {
	actor      string
	actionType string
	start      int64
}

type memWindow struct {
	count int
	end   time.Time
}

// MemCounterStore is a process-local CounterStore.
type MemCounterStore struct {
	mu      sync.Mutex
	windows map[memWindowKey]*memWindow
}

func NewMemCounterStore() *MemCounterStore {
	return &MemCounterStore{windows: make(map[memWindowKey]*memWindow)}
}

func (s *MemCounterStore) CountWindow(_ context.Context, actor, actionType string, windowStart time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.windows[memWindowKey{actor, actionType, windowStart.Unix()}]; ok {
		return w.count, nil
	}
	return 0, nil
}

func (s *MemCounterStore) IncrementWindow(_ context.Context, actor, actionType string, windowStart, windowEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memWindowKey{actor, actionType, windowStart.Unix()}
	w, ok := s.windows[key]
	if !ok {
		w = &memWindow{end: windowEnd}
		s.windows[key] = w
	}
	w.count++
	return nil
}

// DeleteWindowsEndedBefore drops windows that closed before cutoff.
func (s *MemCounterStore) DeleteWindowsEndedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, w := range s.windows {
		if w.end.Before(cutoff) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed, nil
}
