package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisService provides Redis connection and operations
type RedisService struct {
	client *redis.Client
	mu     sync.RWMutex
}

var (
	redisInstance *RedisService
	redisOnce     sync.Once
)

// NewRedisService creates a new Redis service instance
func NewRedisService(redisURL string) (*RedisService, error) {
	var initErr error

	redisOnce.Do(func() {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			initErr = fmt.Errorf("failed to parse Redis URL: %w", err)
			return
		}

		// Configure connection pool
		opts.PoolSize = 10
		opts.MinIdleConns = 2
		opts.MaxRetries = 3
		opts.DialTimeout = 5 * time.Second
		opts.ReadTimeout = 3 * time.Second
		opts.WriteTimeout = 3 * time.Second

		client := redis.NewClient(opts)

		// Test connection
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			initErr = fmt.Errorf("failed to connect to Redis: %w", err)
			return
		}

		redisInstance = &RedisService{
			client: client,
		}

		log.Println("✅ Redis connection established")
	})

	if initErr != nil {
		return nil, initErr
	}

	return redisInstance, nil
}

// Client returns the underlying Redis client
func (r *RedisService) Client() *redis.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// Close closes the Redis connection
func (r *RedisService) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if Redis is healthy
func (r *RedisService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// SetNX sets a key only if it doesn't exist (for distributed locking)
func (r *RedisService) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, value, expiration).Result()
}

// TTL gets the remaining time to live for a key
func (r *RedisService) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.client.TTL(ctx, key).Result()
}

// Delete removes a key
func (r *RedisService) Delete(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

// AcquireLock attempts to acquire a distributed lock
// Returns true if lock was acquired, false otherwise
func (r *RedisService) AcquireLock(ctx context.Context, lockKey string, lockValue string, expiration time.Duration) (bool, error) {
	return r.client.SetNX(ctx, lockKey, lockValue, expiration).Result()
}

// ReleaseLock releases a distributed lock if it's still held by the given value
func (r *RedisService) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	// Lua script to atomically check and delete
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	result, err := script.Run(ctx, r.client, []string{lockKey}, lockValue).Int64()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

// --- cooldown marks ---

func cooldownKey(uid string) string { return "cooldown:" + uid }

// MarkCooldown stamps a leave cooldown for the user.
func (r *RedisService) MarkCooldown(ctx context.Context, uid string, ttl time.Duration) error {
	return r.client.Set(ctx, cooldownKey(uid), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

// CooldownRemaining returns the remaining cooldown for the user, zero when
// none is active.
func (r *RedisService) CooldownRemaining(ctx context.Context, uid string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, cooldownKey(uid)).Result()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		// -1 no expiry, -2 missing; either way no active cooldown.
		return 0, nil
	}
	return ttl, nil
}

// MarkVisitorOnce returns true the first time a uid is counted for a day.
func (r *RedisService) MarkVisitorOnce(ctx context.Context, day, uid string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, "visitor:"+day+":"+uid, 1, ttl).Result()
}
