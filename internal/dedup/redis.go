package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lessonbot:dedup:"

// Redis shares seen keys between bot instances. Keys expire after ttl.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedis creates a Redis backed deduplicator.
func NewRedis(client *redis.Client, ttl time.Duration, log *slog.Logger) *Redis {
	return &Redis{client: client, ttl: ttl, log: log}
}

// ShouldProcess fails open: when Redis is unreachable the event is processed.
func (r *Redis) ShouldProcess(ctx context.Context, key string) bool {
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		r.log.Warn("dedup setnx", "key", key, "error", err)
		return true
	}
	return ok
}

func (r *Redis) Rollback(ctx context.Context, key string) {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		r.log.Warn("dedup rollback", "key", key, "error", err)
	}
}
