package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
)

// RedisScanQueue реализует очередь задач сканирования на базе Redis lists.
type RedisScanQueue struct {
	client *redis.Client
	key    string
}

// NewRedisScanQueue создаёт очередь по указанному ключу.
func NewRedisScanQueue(client *redis.Client, key string) *RedisScanQueue {
	return &RedisScanQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisScanQueue) Enqueue(ctx context.Context, job domain.ScanJob) error {
	payload, err := json.Marshal(job)
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

// Pop блокирующе читает задачу из очереди.
func (q *RedisScanQueue) Pop(ctx context.Context) (domain.ScanJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ScanJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.ScanJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.ScanJob{}, err
		}
		if len(res) != 2 {
			return domain.ScanJob{}, errors.New("redis queue: unexpected response")
		}
		var job domain.ScanJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.ScanJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}
