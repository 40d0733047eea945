package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageProcessor обрабатывает одно сообщение очереди и сам решает
// вопрос ack/nack. Вынесен в интерфейс для тестируемости консьюмера.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, d amqp.Delivery)
}

// Consumer потребляет сообщения одной очереди пулом воркеров.
// QoS-префетч служит потолком числа одновременно обрабатываемых задач.
type Consumer struct {
	conn        *amqp.Connection
	logger      *zap.Logger
	queueName   string
	concurrency int
	processor   MessageProcessor
	stopChannel chan struct{}
	cancelFunc  context.CancelFunc
	wg          sync.WaitGroup
}

// NewConsumer создает консьюмер очереди queueName с пулом из concurrency воркеров.
func NewConsumer(conn *amqp.Connection, logger *zap.Logger, queueName string, concurrency int, processor MessageProcessor) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Consumer{
		conn:        conn,
		logger:      logger.Named("Consumer").With(zap.String("queue", queueName)),
		queueName:   queueName,
		concurrency: concurrency,
		processor:   processor,
		stopChannel: make(chan struct{}),
	}
}

// Start объявляет очередь, устанавливает QoS и блокируется до вызова Stop.
func (c *Consumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFunc = cancel

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		c.queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		QueueArguments(),
	)
	if err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", c.queueName, err)
	}
	c.logger.Info("Очередь успешно объявлена/найдена")

	// Префетч ограничивает число неподтвержденных сообщений и тем самым
	// число параллельно обрабатываемых задач.
	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",    // consumer tag (auto-generated)
		false, // auto-ack = false
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}

	c.logger.Info("Консьюмер запущен, ожидание сообщений...", zap.Int("concurrency", c.concurrency))

	c.wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer c.wg.Done()
			logger := c.logger.With(zap.Int("worker_id", workerID))
			logger.Info("Воркер запущен")
			for {
				select {
				case <-ctx.Done():
					logger.Info("Воркер останавливается из-за отмены контекста")
					return
				case <-c.stopChannel:
					logger.Info("Воркер останавливается из-за сигнала stopChannel")
					return
				case d, ok := <-msgs:
					if !ok {
						logger.Info("Канал сообщений закрыт, воркер завершает работу")
						return
					}
					logger.Debug("Получено сообщение", zap.Uint64("delivery_tag", d.DeliveryTag))
					c.processor.ProcessMessage(ctx, d)
				}
			}
		}(i)
	}

	<-c.stopChannel
	c.logger.Info("Получен сигнал остановки, отменяем контекст воркеров...")
	c.cancelFunc()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.logger.Info("Все воркеры завершены")
	case <-time.After(30 * time.Second):
		c.logger.Warn("Таймаут ожидания завершения воркеров")
	}
	return nil
}

// Stop останавливает консьюмер и ждет завершения воркеров.
func (c *Consumer) Stop() {
	c.logger.Info("Остановка консьюмера...")
	close(c.stopChannel)
}
