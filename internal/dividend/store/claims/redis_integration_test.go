//go:build integration

package claims_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"meridian/internal/dividend/store/claims"
	"meridian/pkg/testutil/containers"
)

type RedisClaimSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *claims.RedisStore
}

func TestRedisClaimSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisClaimSuite))
}

func (s *RedisClaimSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = claims.NewRedis(s.redis.Client)
}

func (s *RedisClaimSuite) TearDownSuite() {
	_ = s.redis.Client.Close()
	_ = s.redis.Container.Terminate(context.Background())
}

func (s *RedisClaimSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisClaimSuite) TestTryClaimIsFirstWriterWins() {
	ctx := context.Background()

	ok, err := s.store.TryClaim(ctx, 1, "alice", 100, 20)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.TryClaim(ctx, 1, "alice", 100, 20)
	s.Require().NoError(err)
	s.False(ok)

	claimed, err := s.store.Claimed(ctx, 1, "alice")
	s.Require().NoError(err)
	s.True(claimed)
}

func (s *RedisClaimSuite) TestClaimsAreScopedPerDividend() {
	ctx := context.Background()

	ok, err := s.store.TryClaim(ctx, 1, "alice", 100, 0)
	s.Require().NoError(err)
	s.True(ok)

	claimed, err := s.store.Claimed(ctx, 2, "alice")
	s.Require().NoError(err)
	s.False(claimed, "claim on dividend 1 must not mark dividend 2")
}

func (s *RedisClaimSuite) TestReleaseMakesHolderClaimableAgain() {
	ctx := context.Background()

	ok, err := s.store.TryClaim(ctx, 1, "alice", 100, 0)
	s.Require().NoError(err)
	s.True(ok)

	s.Require().NoError(s.store.Release(ctx, 1, "alice"))

	ok, err = s.store.TryClaim(ctx, 1, "alice", 100, 0)
	s.Require().NoError(err)
	s.True(ok)
}

// TestConcurrentTryClaim verifies exactly one winner across racing claimers,
// the property the SETNX exists for.
func (s *RedisClaimSuite) TestConcurrentTryClaim() {
	ctx := context.Background()
	const goroutines = 50

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.store.TryClaim(ctx, 7, "alice", 100, 0)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one claimer should win the mark")
}
