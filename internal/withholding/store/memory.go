package store

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu    sync.RWMutex
	rates map[string]uint32
}

func NewMemory() *MemoryStore {
	return &MemoryStore{rates: make(map[string]uint32)}
}

func (s *MemoryStore) Set(_ context.Context, account string, bps uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[account] = bps
	return nil
}

func (s *MemoryStore) Rate(_ context.Context, account string) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rates[account], nil
}
