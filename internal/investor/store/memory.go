package store

import (
	"context"
	"sync"

	"meridian/pkg/platform/sentinel"
)

// MemoryRegistry is the append-only indexable list plus seen-set.
type MemoryRegistry struct {
	mu       sync.RWMutex
	accounts []string
	seen     map[string]bool
}

func NewMemory() *MemoryRegistry {
	return &MemoryRegistry{seen: make(map[string]bool)}
}

func (r *MemoryRegistry) Record(_ context.Context, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[account] {
		return nil
	}
	r.seen[account] = true
	r.accounts = append(r.accounts, account)
	return nil
}

func (r *MemoryRegistry) Seen(_ context.Context, account string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seen[account], nil
}

func (r *MemoryRegistry) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts), nil
}

func (r *MemoryRegistry) At(_ context.Context, index int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.accounts) {
		return "", sentinel.ErrNotFound
	}
	return r.accounts[index], nil
}

func (r *MemoryRegistry) Range(_ context.Context, start, end int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if start < 0 || end >= len(r.accounts) || start > end {
		return nil, sentinel.ErrNotFound
	}
	return append([]string{}, r.accounts[start:end+1]...), nil
}
