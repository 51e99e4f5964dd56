package cache

import (
	"sync"
	"time"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func newMemoryStore(sweepInterval time.Duration, now func() time.Time) *memoryStore {
	s := &memoryStore{
		entries: make(map[string]entry),
		now:     now,
		stop:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}
	return s
}

func (s *memoryStore) get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, ErrCacheMiss
	}
	return e.data, nil
}

func (s *memoryStore) set(key string, data []byte, ttl time.Duration) {
	e := entry{data: data}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

func (s *memoryStore) delete(keys ...string) {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	s.mu.Unlock()
}

func (s *memoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// sweep evicts expired entries and returns how many were removed.
func (s *memoryStore) sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

func (s *memoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *memoryStore) close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
