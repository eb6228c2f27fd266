package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPendingKey    = "zap:sends:pending"
	defaultProcessingKey = "zap:sends:processing"
)

// RedisBroker is a reliable-list queue: jobs move atomically from the
// pending list to a processing list on receive, get removed on ack and
// pushed back to pending on nack. A job is therefore never lost to a
// worker crash between receive and ack; a janitor sweeping stale
// processing entries handles crashed workers.
type RedisBroker struct {
	rdb           *redis.Client
	pendingKey    string
	processingKey string
	popTimeout    time.Duration
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{
		rdb:           rdb,
		pendingKey:    defaultPendingKey,
		processingKey: defaultProcessingKey,
		popTimeout:    5 * time.Second,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := b.rdb.LPush(ctx, b.pendingKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (b *RedisBroker) Receive(ctx context.Context) (Delivery, error) {
	for {
		raw, err := b.rdb.BRPopLPush(ctx, b.pendingKey, b.processingKey, b.popTimeout).Result()
		if err == redis.Nil {
			// Timed out with an empty queue; keep waiting unless the
			// caller is done.
			select {
			case <-ctx.Done():
				return Delivery{}, ctx.Err()
			default:
				continue
			}
		}
		if err != nil {
			return Delivery{}, fmt.Errorf("dequeue job: %w", err)
		}
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// Poison entry: drop it from processing and move on.
			_ = b.rdb.LRem(ctx, b.processingKey, 1, raw).Err()
			continue
		}
		return Delivery{Job: job, raw: raw}, nil
	}
}

func (b *RedisBroker) Ack(ctx context.Context, d Delivery) error {
	return b.rdb.LRem(ctx, b.processingKey, 1, d.raw).Err()
}

func (b *RedisBroker) Nack(ctx context.Context, d Delivery) error {
	pipe := b.rdb.TxPipeline()
	pipe.LRem(ctx, b.processingKey, 1, d.raw)
	pipe.LPush(ctx, b.pendingKey, d.raw)
	_, err := pipe.Exec(ctx)
	return err
}

// PendingDepth reports the queue length, for metrics.
func (b *RedisBroker) PendingDepth(ctx context.Context) (int64, error) {
	return b.rdb.LLen(ctx, b.pendingKey).Result()
}
