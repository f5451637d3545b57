package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hivemesh/relay/internal/model"
)

// RedisDecisionCache implements DecisionCache for Redis, for deployments
// where several router instances should share the flattened permission sets.
type RedisDecisionCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisDecisionCache creates a new Redis decision cache
func NewRedisDecisionCache(host string, port int, password string, db int, logger *zap.Logger) (*RedisDecisionCache, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDecisionCache{
		client: client,
		logger: logger,
	}, nil
}

// Get retrieves a cached permission set
func (c *RedisDecisionCache) Get(ctx context.Context, key string) (model.PermissionSet, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var tokens []model.Permission
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permission set: %w", err)
	}

	return model.NewPermissionSet(tokens...), nil
}

// Set stores a permission set with TTL
func (c *RedisDecisionCache) Set(ctx context.Context, key string, perms model.PermissionSet, ttl time.Duration) error {
	tokens := make([]model.Permission, 0, len(perms))
	for p := range perms {
		tokens = append(tokens, p)
	}

	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal permission set: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes an entry from the cache
func (c *RedisDecisionCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Ping checks the Redis connection
func (c *RedisDecisionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisDecisionCache) Close() error {
	return c.client.Close()
}
