package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "queryd:result:"

// Redis stores entries as JSON values with a server-side TTL. Redis being
// down degrades to cache misses; it never fails an orchestration.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(addr, password string, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl, logger: logger}, nil
}

// Get fetches and decodes an entry.
func (r *Redis) Get(ctx context.Context, key string) (*Entry, bool) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("redis get failed", zap.Error(err))
		}
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		r.logger.Warn("corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &entry, true
}

// Set encodes and stores an entry with the configured TTL.
func (r *Redis) Set(ctx context.Context, key string, entry *Entry) {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		r.logger.Warn("marshal cache entry failed", zap.Error(err))
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, raw, r.ttl).Err(); err != nil {
		r.logger.Warn("redis set failed", zap.Error(err))
	}
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
