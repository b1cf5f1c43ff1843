// Package broker implements the background task runtime's transport layer
// (C5): a Redis Streams queue generalized from the teacher's stream
// repository, plus the compute worker that drives C1-C4 per task.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/domain"
)

// Broker is the task queue the orchestrator publishes to and the compute
// worker consumes from.
type Broker interface {
	Publish(ctx context.Context, stream string, payload interface{}) error
	Consume(ctx context.Context, stream, group, consumer string) (<-chan domain.StreamMessage, error)
	Ack(ctx context.Context, stream, group, messageID string) error
	CreateConsumerGroup(ctx context.Context, stream, group string) error
	// PendingCount reports entries claimed by group but not yet acked,
	// used by the scheduler's orphan sweep.
	PendingCount(ctx context.Context, stream, group string) (int64, error)
}

type redisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBroker(client *redis.Client, logger *zap.Logger) Broker {
	return &redisBroker{client: client, logger: logger}
}

func (b *redisBroker) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if err.Error() == "BUSYGROUP Consumer Group name already exists" {
			return nil
		}
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (b *redisBroker) Publish(ctx context.Context, stream string, payload interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal stream payload: %w", err)
	}

	_, err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": string(encoded)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to stream %s: %w", stream, err)
	}
	return nil
}

func (b *redisBroker) Consume(ctx context.Context, stream, group, consumer string) (<-chan domain.StreamMessage, error) {
	msgChan := make(chan domain.StreamMessage, 10)

	go func() {
		defer close(msgChan)

		for {
			select {
			case <-ctx.Done():
				return
			default:
				result, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
					Group:    group,
					Consumer: consumer,
					Streams:  []string{stream, ">"},
					Count:    10,
					Block:    1 * time.Second,
				}).Result()

				if err != nil {
					if err == redis.Nil {
						continue
					}
					if ctx.Err() != nil {
						return
					}
					b.logger.Error("stream read failed", zap.String("stream", stream), zap.Error(err))
					time.Sleep(time.Second)
					continue
				}

				for _, s := range result {
					for _, msg := range s.Messages {
						raw, ok := msg.Values["data"].(string)
						if !ok {
							b.logger.Warn("stream message missing data field", zap.String("message_id", msg.ID))
							continue
						}

						var data map[string]interface{}
						if err := json.Unmarshal([]byte(raw), &data); err != nil {
							b.logger.Error("malformed stream payload", zap.String("message_id", msg.ID), zap.Error(err))
							continue
						}

						select {
						case msgChan <- domain.StreamMessage{ID: msg.ID, Stream: stream, Data: data}:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}()

	return msgChan, nil
}

func (b *redisBroker) Ack(ctx context.Context, stream, group, messageID string) error {
	if err := b.client.XAck(ctx, stream, group, messageID).Err(); err != nil {
		return fmt.Errorf("ack message %s: %w", messageID, err)
	}
	return nil
}

func (b *redisBroker) PendingCount(ctx context.Context, stream, group string) (int64, error) {
	summary, err := b.client.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, fmt.Errorf("pending summary: %w", err)
	}
	return summary.Count, nil
}
