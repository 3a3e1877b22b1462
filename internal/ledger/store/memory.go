package store

import (
	"context"
	"fmt"
	"sync"

	"meridian/pkg/platform/sentinel"
)

// MemoryStore holds live balances and the supply aggregate.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]uint64
	supply   uint64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{balances: make(map[string]uint64)}
}

func (s *MemoryStore) BalanceOf(_ context.Context, account string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[account], nil
}

func (s *MemoryStore) TotalSupply(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supply, nil
}

func (s *MemoryStore) Credit(_ context.Context, account string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] += amount
	return nil
}

func (s *MemoryStore) Debit(_ context.Context, account string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[account] < amount {
		return fmt.Errorf("debit %s by %d with balance %d: %w", account, amount, s.balances[account], sentinel.ErrInvalidState)
	}
	s.balances[account] -= amount
	return nil
}

func (s *MemoryStore) SetSupply(_ context.Context, supply uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supply = supply
	return nil
}
