package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// TaskPublisher defines the interface for publishing pipeline tasks.
type TaskPublisher interface {
	PublishAnalyzeTask(ctx context.Context, payload AnalyzeTaskPayload) error
	PublishGenerateTask(ctx context.Context, payload GenerateTaskPayload) error
	Close() error
}

// Compile-time check
var _ TaskPublisher = (*rabbitMQPublisher)(nil)

// rabbitMQPublisher implements TaskPublisher for RabbitMQ.
type rabbitMQPublisher struct {
	channel *amqp.Channel
}

// NewRabbitMQPublisher открывает канал и объявляет обе очереди пайплайна.
// Параметры очередей должны совпадать с консьюмером: объявление с обеих
// сторон делает систему устойчивой к порядку запуска сервисов.
func NewRabbitMQPublisher(conn *amqp.Connection) (TaskPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open a channel")
		return nil, fmt.Errorf("publisher: не удалось открыть канал: %w", err)
	}

	for _, queueName := range []string{QueueAnalyzeTasks, QueueGenerateTasks} {
		_, err = ch.QueueDeclare(
			queueName,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			QueueArguments(),
		)
		if err != nil {
			_ = ch.Close()
			log.Error().Err(err).Str("queue", queueName).Msg("Failed to declare queue")
			return nil, fmt.Errorf("publisher: не удалось объявить очередь '%s': %w", queueName, err)
		}
	}

	log.Info().
		Str("analyzeQueue", QueueAnalyzeTasks).
		Str("generateQueue", QueueGenerateTasks).
		Msg("Pipeline queues declared successfully")

	return &rabbitMQPublisher{channel: ch}, nil
}

// PublishAnalyzeTask публикует задание фазы анализа.
func (p *rabbitMQPublisher) PublishAnalyzeTask(ctx context.Context, payload AnalyzeTaskPayload) error {
	return p.publish(ctx, QueueAnalyzeTasks, payload, payload.TaskID.String())
}

// PublishGenerateTask публикует задание фазы генерации.
func (p *rabbitMQPublisher) PublishGenerateTask(ctx context.Context, payload GenerateTaskPayload) error {
	return p.publish(ctx, QueueGenerateTasks, payload, payload.TaskID.String())
}

func (p *rabbitMQPublisher) publish(ctx context.Context, queueName string, payload any, taskID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publisher: ошибка сериализации задания: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(publishCtx,
		"",        // exchange (default)
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Str("taskID", taskID).Msg("Failed to publish task")
		return fmt.Errorf("publisher: ошибка публикации в '%s': %w", queueName, err)
	}

	log.Info().Str("queue", queueName).Str("taskID", taskID).Msg("Task published")
	return nil
}

// Close закрывает канал паблишера.
func (p *rabbitMQPublisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
