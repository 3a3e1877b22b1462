// Package store persists dividend records. Indexes are assigned
// sequentially from 1 at insert.
package store

import (
	"context"
	"sync"
	"time"

	"meridian/internal/dividend/models"
	"meridian/pkg/platform/sentinel"
)

type MemoryStore struct {
	mu        sync.RWMutex
	dividends map[uint64]*models.Dividend
	nextIndex uint64
}

func NewMemory() *MemoryStore {
	return &MemoryStore{dividends: make(map[uint64]*models.Dividend), nextIndex: 1}
}

func (s *MemoryStore) Create(_ context.Context, d *models.Dividend) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.nextIndex
	s.nextIndex++
	stored := *d
	stored.Index = index
	stored.Exclusions = append([]string(nil), d.Exclusions...)
	s.dividends[index] = &stored
	return index, nil
}

func (s *MemoryStore) Delete(_ context.Context, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dividends[index]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.dividends, index)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, index uint64) (*models.Dividend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dividends[index]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *d
	copied.Exclusions = append([]string(nil), d.Exclusions...)
	return &copied, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.Dividend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Dividend, 0, len(s.dividends))
	for index := uint64(1); index < s.nextIndex; index++ {
		if d, ok := s.dividends[index]; ok {
			copied := *d
			copied.Exclusions = append([]string(nil), d.Exclusions...)
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.dividends)), nil
}

func (s *MemoryStore) UpdateDates(_ context.Context, index uint64, maturity, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dividends[index]
	if !ok {
		return sentinel.ErrNotFound
	}
	d.Maturity = maturity
	d.Expiry = expiry
	return nil
}

func (s *MemoryStore) ApplyClaim(_ context.Context, index uint64, gross, withheld uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dividends[index]
	if !ok {
		return sentinel.ErrNotFound
	}
	if gross > d.TotalAmount-d.ClaimedAmount {
		return sentinel.ErrInvalidState
	}
	d.ClaimedAmount += gross
	d.Withheld += withheld
	return nil
}

func (s *MemoryStore) WithdrawWithheld(_ context.Context, index uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dividends[index]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	withheld := d.Withheld
	d.Withheld = 0
	return withheld, nil
}

func (s *MemoryStore) MarkReclaimed(_ context.Context, index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dividends[index]
	if !ok {
		return sentinel.ErrNotFound
	}
	if d.Reclaimed {
		return sentinel.ErrAlreadyUsed
	}
	d.Reclaimed = true
	return nil
}
