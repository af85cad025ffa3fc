package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/xaenox/riskwatch/internal/models"
)

// Redis key layout: riskwatch:session:{key} -> hash{user_id, child_user_id}.
const redisKeyPrefix = "riskwatch:session:"

// RedisStorage reads identities that a companion process (the browser
// extension's backend, an admin tool) writes into Redis hashes.
type RedisStorage struct {
	rdb *redis.Client
}

func NewRedisStorage(ctx context.Context, opts *redis.Options) (*RedisStorage, error) {
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStorage{rdb: rdb}, nil
}

func redisKey(sessionKey string) string {
	return redisKeyPrefix + sessionKey
}

func (s *RedisStorage) Lookup(ctx context.Context, sessionKey string) (models.UserIdentity, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, redisKey(sessionKey)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(fields) == 0) {
		return models.UserIdentity{}, false, nil
	}
	if err != nil {
		return models.UserIdentity{}, false, fmt.Errorf("redis hgetall %s: %w", sessionKey, err)
	}

	userID := fields["user_id"]
	if userID == "" {
		return models.UserIdentity{}, false, nil
	}

	childID, err := strconv.ParseInt(fields["child_user_id"], 10, 64)
	if err != nil {
		return models.UserIdentity{}, false, fmt.Errorf("session %s: invalid child_user_id %q: %w", sessionKey, fields["child_user_id"], err)
	}

	return models.UserIdentity{UserID: userID, ChildUserID: childID}, true, nil
}

func (s *RedisStorage) Close() error {
	return s.rdb.Close()
}
