package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hohoemi-rabo/prepfeed/internal/infra/metrics"
)

// RedisInterval разделяет промежуток между запросами на все экземпляры сервиса:
// слот занимается ключом SET NX PX=gap.
type RedisInterval struct {
	client *redis.Client
	key    string
	gap    time.Duration
	poll   time.Duration
}

var _ Limiter = (*RedisInterval)(nil)

// NewRedisInterval создаёт распределённый ограничитель.
func NewRedisInterval(client *redis.Client, key string, gap time.Duration) *RedisInterval {
	poll := gap / 10
	if poll < 50*time.Millisecond {
		poll = 50 * time.Millisecond
	}
	return &RedisInterval{client: client, key: key, gap: gap, poll: poll}
}

// Wait ждёт, пока не удастся занять слот.
func (l *RedisInterval) Wait(ctx context.Context) error {
	for {
		start := time.Now()
		ok, err := l.client.SetNX(ctx, l.key, "1", l.gap).Result()
		metrics.ObserveNetworkRequest("redis", "setnx", l.key, start, err)
		if err != nil {
			return fmt.Errorf("ratelimit: %w", err)
		}
		if ok {
			return nil
		}
		wait := l.poll
		if ttl, err := l.client.PTTL(ctx, l.key).Result(); err == nil && ttl > 0 && ttl < wait {
			wait = ttl
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}
