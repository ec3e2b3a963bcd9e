// Package redis provides a Redis-backed querykit.CacheStore, letting several
// client processes share one payload cache.
package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"querykit"
	"querykit/common"
)

// store implements querykit.CacheStore using Redis.
type store struct {
	redisClient *redis.Client

	countersMu sync.Mutex
	counters   map[string]int
}

// Ensure store implements querykit.CacheStore.
var _ querykit.CacheStore = (*store)(nil)

// Options holds configuration for the Redis store.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewStore creates a new Redis cache store. The returned cleanup function
// closes the underlying connection.
func NewStore(opts Options) (querykit.CacheStore, func(), error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	// Ping Redis to check connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	cleanup := func() {
		if err := rdb.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}
	return &store{redisClient: rdb, counters: make(map[string]int)}, cleanup, nil
}

// Get retrieves a serialized payload from Redis.
func (s *store) Get(ctx context.Context, key string) (string, error) {
	s.incrCounter("Get")
	val, err := s.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		s.incrCounter("GetMiss")
		return "", common.ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("redis Get error for key '%s': %w", key, err)
	}
	s.incrCounter("GetHit")
	return val, nil
}

// Set stores a serialized payload in Redis with the given expiration.
func (s *store) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	s.incrCounter("Set")
	if err := s.redisClient.Set(ctx, key, value, expiration).Err(); err != nil {
		return fmt.Errorf("redis Set error for key '%s': %w", key, err)
	}
	return nil
}

// Delete removes a payload from Redis.
func (s *store) Delete(ctx context.Context, key string) error {
	s.incrCounter("Delete")
	err := s.redisClient.Del(ctx, key).Err()
	if err != nil && err != redis.Nil { // Don't error if key didn't exist
		return fmt.Errorf("redis Del error for key '%s': %w", key, err)
	}
	return nil
}

// Stats returns local operation counters for this store instance.
func (s *store) Stats(ctx context.Context) querykit.CacheStats {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	cloned := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		cloned[k] = v
	}
	return querykit.CacheStats{Counters: cloned}
}

func (s *store) incrCounter(name string) {
	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	s.counters[name]++
}
