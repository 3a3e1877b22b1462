package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"meridian/internal/checkpoint"
)

// MemoryStore keeps checkpoints and histories in process. Histories are
// slices ordered by checkpoint id (appends only ever carry the latest id, so
// order is maintained by construction) and queried with binary search.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints []checkpoint.Checkpoint
	balances    map[string][]checkpoint.HistoryEntry
	supply      []checkpoint.HistoryEntry
}

func NewMemory() *MemoryStore {
	return &MemoryStore{balances: make(map[string][]checkpoint.HistoryEntry)}
}

func (s *MemoryStore) CreateCheckpoint(_ context.Context, createdAt time.Time, createdBy string) (checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := checkpoint.Checkpoint{
		ID:        uint64(len(s.checkpoints)) + 1,
		CreatedAt: createdAt,
		CreatedBy: createdBy,
	}
	s.checkpoints = append(s.checkpoints, cp)
	return cp, nil
}

func (s *MemoryStore) Latest(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.checkpoints)), nil
}

func (s *MemoryStore) LastBalanceCheckpoint(_ context.Context, account string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.balances[account]
	if len(history) == 0 {
		return 0, false, nil
	}
	return history[len(history)-1].CheckpointID, true, nil
}

func (s *MemoryStore) AppendBalance(_ context.Context, account string, entry checkpoint.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = append(s.balances[account], entry)
	return nil
}

func (s *MemoryStore) BalanceAtOrAfter(_ context.Context, account string, id uint64) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return searchAtOrAfter(s.balances[account], id)
}

func (s *MemoryStore) LastSupplyCheckpoint(_ context.Context) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.supply) == 0 {
		return 0, false, nil
	}
	return s.supply[len(s.supply)-1].CheckpointID, true, nil
}

func (s *MemoryStore) AppendSupply(_ context.Context, entry checkpoint.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supply = append(s.supply, entry)
	return nil
}

func (s *MemoryStore) SupplyAtOrAfter(_ context.Context, id uint64) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return searchAtOrAfter(s.supply, id)
}

// searchAtOrAfter finds the first entry with CheckpointID ≥ id. O(log k) in
// the number of boundaries the account was active across.
func searchAtOrAfter(history []checkpoint.HistoryEntry, id uint64) (uint64, bool, error) {
	i := sort.Search(len(history), func(i int) bool {
		return history[i].CheckpointID >= id
	})
	if i == len(history) {
		return 0, false, nil
	}
	return history[i].Value, true, nil
}
