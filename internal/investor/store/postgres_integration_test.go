//go:build integration

package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"meridian/internal/investor/store"
	"meridian/pkg/platform/sentinel"
	"meridian/pkg/testutil/containers"
)

type PostgresRegistrySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	registry *store.PostgresRegistry
}

func TestPostgresRegistrySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRegistrySuite))
}

func (s *PostgresRegistrySuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.registry = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresRegistrySuite) TearDownSuite() {
	_ = s.postgres.Container.Terminate(context.Background())
}

func (s *PostgresRegistrySuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
}

func (s *PostgresRegistrySuite) TestRecordIsIdempotentAndOrdered() {
	ctx := context.Background()
	for _, account := range []string{"alice", "bob", "alice", "carol", "bob"} {
		s.Require().NoError(s.registry.Record(ctx, account))
	}

	count, err := s.registry.Count(ctx)
	s.Require().NoError(err)
	s.Equal(3, count)

	for i, want := range []string{"alice", "bob", "carol"} {
		got, err := s.registry.At(ctx, i)
		s.Require().NoError(err)
		s.Equal(want, got, "index %d", i)
	}
}

func (s *PostgresRegistrySuite) TestRangeInclusive() {
	ctx := context.Background()
	for _, account := range []string{"a", "b", "c", "d", "e"} {
		s.Require().NoError(s.registry.Record(ctx, account))
	}

	accounts, err := s.registry.Range(ctx, 1, 3)
	s.Require().NoError(err)
	s.Equal([]string{"b", "c", "d"}, accounts)

	_, err = s.registry.Range(ctx, 3, 7)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresRegistrySuite) TestAtOutOfBounds() {
	_, err := s.registry.At(context.Background(), 0)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
