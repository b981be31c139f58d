package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/metrics"
)

// RedisAnalysisQueue реализует надёжную очередь на Redis lists:
// полученные задачи лежат в списке processing до подтверждения.
type RedisAnalysisQueue struct {
	client        *redis.Client
	key           string
	processingKey string
}

var _ domain.AnalysisQueue = (*RedisAnalysisQueue)(nil)

// NewRedisAnalysisQueue создаёт очередь по указанному ключу.
func NewRedisAnalysisQueue(client *redis.Client, key string) *RedisAnalysisQueue {
	return &RedisAnalysisQueue{client: client, key: key, processingKey: key + ":processing"}
}

// Enqueue публикует задачу в очередь.
func (q *RedisAnalysisQueue) Enqueue(ctx context.Context, msg domain.AnalysisJobMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе забирает задачу и переносит её в список processing.
func (q *RedisAnalysisQueue) Receive(ctx context.Context) (domain.AnalysisJobMessage, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.AnalysisJobMessage{}, nil, err
		}

		raw, err := q.client.BLMove(ctx, q.key, q.processingKey, "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.AnalysisJobMessage{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.AnalysisJobMessage{}, nil, err
		}

		ack := q.ackFunc(raw)
		var msg domain.AnalysisJobMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			_ = ack(true)
			return domain.AnalysisJobMessage{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return msg, ack, nil
	}
}

func (q *RedisAnalysisQueue) ackFunc(raw string) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		start := time.Now()
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processingKey, 1, raw)
			if !success {
				pipe.LPush(ctx, q.key, raw)
			}
			return nil
		})
		metrics.ObserveNetworkRequest("redis", "ack", q.key, start, err)
		return err
	}
}
