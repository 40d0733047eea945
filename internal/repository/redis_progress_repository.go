package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Compile-time check
var _ ProgressCounter = (*redisProgressCounter)(nil)

// Счетчики живут ограниченное время: после завершения задачи прогресс
// хранится в PostgreSQL.
const progressTTL = 24 * time.Hour

type redisProgressCounter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisProgressCounter создает счетчик прогресса чанков поверх Redis.
func NewRedisProgressCounter(client *redis.Client, logger *zap.Logger) ProgressCounter {
	return &redisProgressCounter{
		client: client,
		logger: logger.Named("RedisProgress"),
	}
}

func progressKey(taskID uuid.UUID) string {
	return fmt.Sprintf("task:%s:completed_chunks", taskID.String())
}

// Increment атомарно увеличивает счетчик чанков задачи.
func (c *redisProgressCounter) Increment(ctx context.Context, taskID uuid.UUID) (int64, error) {
	key := progressKey(taskID)
	val, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		c.logger.Error("Failed to increment progress counter", zap.String("taskID", taskID.String()), zap.Error(err))
		return 0, fmt.Errorf("ошибка инкремента прогресса: %w", err)
	}
	if val == 1 {
		// Первый инкремент задает TTL.
		if err := c.client.Expire(ctx, key, progressTTL).Err(); err != nil {
			c.logger.Warn("Failed to set TTL on progress counter", zap.String("taskID", taskID.String()), zap.Error(err))
		}
	}
	return val, nil
}

// Get возвращает текущее значение счетчика (0, если ключа нет).
func (c *redisProgressCounter) Get(ctx context.Context, taskID uuid.UUID) (int64, error) {
	val, err := c.client.Get(ctx, progressKey(taskID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("ошибка чтения прогресса: %w", err)
	}
	return val, nil
}

// Reset сбрасывает счетчик задачи (перед повторным запуском генерации).
func (c *redisProgressCounter) Reset(ctx context.Context, taskID uuid.UUID) error {
	if err := c.client.Del(ctx, progressKey(taskID)).Err(); err != nil {
		return fmt.Errorf("ошибка сброса прогресса: %w", err)
	}
	return nil
}
