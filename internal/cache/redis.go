package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opencrafts-io/interventoria/internal/config"
	"github.com/opencrafts-io/interventoria/internal/permissions"
)

const (
	keyPrefix     = "interventoria:grants:"
	subjectPrefix = "interventoria:subjects:"
)

// RedisGrantCache shares grant sets between portal instances.
type RedisGrantCache struct {
	client redis.UniversalClient
}

// NewRedisClient connects to the configured Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisGrantCache(client redis.UniversalClient) *RedisGrantCache {
	return &RedisGrantCache{client: client}
}

func (c *RedisGrantCache) Get(ctx context.Context, key string) (permissions.GrantSet, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return permissions.GrantSet{}, false, nil
	}
	if err != nil {
		return permissions.GrantSet{}, false, fmt.Errorf("failed to read cached grants: %w", err)
	}

	var grants permissions.GrantSet
	if err := json.Unmarshal(data, &grants); err != nil {
		return permissions.GrantSet{}, false, fmt.Errorf("failed to decode cached grants: %w", err)
	}
	return grants, true, nil
}

// Set stores the grants under the token key and records the key in the
// subject's index set. The index lives as long as the newest entry.
func (c *RedisGrantCache) Set(ctx context.Context, subject, key string, grants permissions.GrantSet, ttl time.Duration) error {
	data, err := json.Marshal(grants)
	if err != nil {
		return fmt.Errorf("failed to encode grants: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyPrefix+key, data, ttl)
		pipe.SAdd(ctx, subjectPrefix+subject, key)
		pipe.Expire(ctx, subjectPrefix+subject, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache grants: %w", err)
	}
	return nil
}

func (c *RedisGrantCache) DeleteSubject(ctx context.Context, subject string) error {
	keys, err := c.client.SMembers(ctx, subjectPrefix+subject).Result()
	if err != nil {
		return fmt.Errorf("failed to read cached grant index: %w", err)
	}

	del := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		del = append(del, keyPrefix+key)
	}
	del = append(del, subjectPrefix+subject)

	if err := c.client.Del(ctx, del...).Err(); err != nil {
		return fmt.Errorf("failed to evict cached grants: %w", err)
	}
	return nil
}
