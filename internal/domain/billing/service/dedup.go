package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventDeduper 回调事件去重。at-least-once 投递下，
// 同一事件 ID 只允许生效一次
type EventDeduper interface {
	// Reserve 占用事件 ID，返回 false 表示已处理过
	Reserve(ctx context.Context, eventID string) (bool, error)
	// Release 处理失败时释放占用，让传输层重试能重新生效
	Release(ctx context.Context, eventID string) error
}

const dedupKeyPrefix = "webhook:event:"

// redisDeduper SETNX + TTL 实现，保留窗口过后自动过期
type redisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) EventDeduper {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &redisDeduper{rdb: rdb, ttl: ttl}
}

func (d *redisDeduper) Reserve(ctx context.Context, eventID string) (bool, error) {
	return d.rdb.SetNX(ctx, dedupKeyPrefix+eventID, 1, d.ttl).Result()
}

func (d *redisDeduper) Release(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, dedupKeyPrefix+eventID).Err()
}
