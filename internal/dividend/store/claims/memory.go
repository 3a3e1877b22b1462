// Package claims tracks which (dividend, account) pairs have been paid. The
// mark is a compare-and-set: whoever sets it first owns the payment, so a
// holder can never be paid twice even under concurrent pull and push.
package claims

import (
	"context"
	"sync"
)

// Claim is the recorded payment split for a paid holder.
type Claim struct {
	Gross    uint64
	Withheld uint64
}

type key struct {
	dividendIndex uint64
	account       string
}

// MemoryStore is the single-instance CAS implementation.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[key]Claim
}

func NewMemory() *MemoryStore {
	return &MemoryStore{claims: make(map[key]Claim)}
}

func (s *MemoryStore) TryClaim(_ context.Context, dividendIndex uint64, account string, gross, withheld uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{dividendIndex, account}
	if _, exists := s.claims[k]; exists {
		return false, nil
	}
	s.claims[k] = Claim{Gross: gross, Withheld: withheld}
	return true, nil
}

func (s *MemoryStore) Claimed(_ context.Context, dividendIndex uint64, account string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.claims[key{dividendIndex, account}]
	return exists, nil
}

// Release removes a mark set by TryClaim whose payment then failed, so the
// holder stays claimable.
func (s *MemoryStore) Release(_ context.Context, dividendIndex uint64, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key{dividendIndex, account})
	return nil
}
