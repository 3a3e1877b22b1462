//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"meridian/internal/checkpoint"
	"meridian/internal/checkpoint/store"
	"meridian/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	_ = s.postgres.Container.Terminate(context.Background())
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

func (s *PostgresStoreSuite) TestCheckpointIDsAreSequential() {
	ctx := context.Background()
	for want := uint64(1); want <= 5; want++ {
		cp, err := s.store.CreateCheckpoint(ctx, time.Now().UTC(), "operator")
		s.Require().NoError(err)
		s.Equal(want, cp.ID)
	}
	latest, err := s.store.Latest(ctx)
	s.Require().NoError(err)
	s.Equal(uint64(5), latest)
}

// TestConcurrentCreation verifies the MAX(id)+1 insert never hands out the
// same id twice under concurrency.
func (s *PostgresStoreSuite) TestConcurrentCreation() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	ids := make(chan uint64, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp, err := s.store.CreateCheckpoint(ctx, time.Now().UTC(), "operator")
			if err == nil {
				ids <- cp.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		s.False(seen[id], "checkpoint id %d assigned twice", id)
		seen[id] = true
	}
}

func (s *PostgresStoreSuite) TestBalanceAtOrAfterFindsFirstEntry() {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := s.store.CreateCheckpoint(ctx, time.Now().UTC(), "operator")
		s.Require().NoError(err)
	}
	// Sparse history: entries only at checkpoints 3 and 8.
	s.Require().NoError(s.store.AppendBalance(ctx, "alice", checkpoint.HistoryEntry{CheckpointID: 3, Value: 100}))
	s.Require().NoError(s.store.AppendBalance(ctx, "alice", checkpoint.HistoryEntry{CheckpointID: 8, Value: 250}))

	tests := []struct {
		query uint64
		want  uint64
		ok    bool
	}{
		{query: 1, want: 100, ok: true},
		{query: 3, want: 100, ok: true},
		{query: 4, want: 250, ok: true},
		{query: 8, want: 250, ok: true},
		{query: 9, ok: false},
	}
	for _, tt := range tests {
		value, ok, err := s.store.BalanceAtOrAfter(ctx, "alice", tt.query)
		s.Require().NoError(err)
		s.Equal(tt.ok, ok, "query %d", tt.query)
		if tt.ok {
			s.Equal(tt.want, value, "query %d", tt.query)
		}
	}
}

func (s *PostgresStoreSuite) TestAppendBalanceIsFirstWriteWins() {
	ctx := context.Background()
	_, err := s.store.CreateCheckpoint(ctx, time.Now().UTC(), "operator")
	s.Require().NoError(err)

	s.Require().NoError(s.store.AppendBalance(ctx, "alice", checkpoint.HistoryEntry{CheckpointID: 1, Value: 10}))
	// A second append for the same checkpoint must not overwrite the frozen value.
	s.Require().NoError(s.store.AppendBalance(ctx, "alice", checkpoint.HistoryEntry{CheckpointID: 1, Value: 999}))

	value, ok, err := s.store.BalanceAtOrAfter(ctx, "alice", 1)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(uint64(10), value)
}

func (s *PostgresStoreSuite) TestSupplyHistory() {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.store.CreateCheckpoint(ctx, time.Now().UTC(), "operator")
		s.Require().NoError(err)
	}
	s.Require().NoError(s.store.AppendSupply(ctx, checkpoint.HistoryEntry{CheckpointID: 2, Value: 1000}))

	last, ok, err := s.store.LastSupplyCheckpoint(ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(uint64(2), last)

	value, ok, err := s.store.SupplyAtOrAfter(ctx, 1)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(uint64(1000), value)

	_, ok, err = s.store.SupplyAtOrAfter(ctx, 3)
	s.Require().NoError(err)
	s.False(ok)
}
