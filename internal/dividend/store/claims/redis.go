package claims

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the multi-instance CAS implementation. The mark is a SETNX
// on a per-(dividend, account) key; claim marks never expire.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func claimKey(dividendIndex uint64, account string) string {
	return fmt.Sprintf("dividend:%d:claim:%s", dividendIndex, account)
}

func (s *RedisStore) TryClaim(ctx context.Context, dividendIndex uint64, account string, gross, withheld uint64) (bool, error) {
	value := fmt.Sprintf("%d:%d", gross, withheld)
	set, err := s.client.SetNX(ctx, claimKey(dividendIndex, account), value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("setnx claim mark: %w", err)
	}
	return set, nil
}

func (s *RedisStore) Claimed(ctx context.Context, dividendIndex uint64, account string) (bool, error) {
	n, err := s.client.Exists(ctx, claimKey(dividendIndex, account)).Result()
	if err != nil {
		return false, fmt.Errorf("check claim mark: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Release(ctx context.Context, dividendIndex uint64, account string) error {
	if err := s.client.Del(ctx, claimKey(dividendIndex, account)).Err(); err != nil {
		return fmt.Errorf("release claim mark: %w", err)
	}
	return nil
}
