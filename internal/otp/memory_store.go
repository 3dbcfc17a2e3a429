package otp

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a time-indexed map with both active expiry on read and a
// background reaper, so abandoned challenges don't pile up.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]Challenge
	done       chan struct{}
	closeOnce  sync.Once
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		challenges: make(map[string]Challenge),
		done:       make(chan struct{}),
	}
	go s.reap(time.Minute)
	return s
}

func (s *MemoryStore) Put(_ context.Context, key string, ch Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[key] = ch
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[key]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	return ch, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[key]; !ok {
		return ErrNotFound
	}
	delete(s.challenges, key)
	return nil
}

// Close stops the reaper.
func (s *MemoryStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *MemoryStore) reap(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, ch := range s.challenges {
				if ch.expired(now) {
					delete(s.challenges, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
