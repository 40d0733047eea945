package messaging

import (
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Имена очередей пайплайна.
const (
	QueueAnalyzeTasks  = "flashcards.analyze"
	QueueGenerateTasks = "flashcards.generate"
)

// QueueArguments - общие аргументы очередей пайплайна. Quorum-очередь
// проставляет заголовок x-delivery-count при каждой повторной доставке,
// по нему воркер ограничивает число повторов временных сбоев.
// Параметры должны совпадать у паблишера и консьюмера.
func QueueArguments() amqp.Table {
	return amqp.Table{"x-queue-type": "quorum"}
}

// DeliveryCount возвращает число предыдущих доставок сообщения.
// Для первой доставки заголовка нет и счетчик равен нулю.
func DeliveryCount(d amqp.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	}
	return 0
}

// AnalyzeTaskPayload - задание фазы анализа: распарсить источник,
// построить оглавление, списать стоимость индексации.
type AnalyzeTaskPayload struct {
	TaskID uuid.UUID `json:"task_id"`
	UserID uuid.UUID `json:"user_id"`
}

// GenerateTaskPayload - задание фазы генерации карточек.
// Legacy-задачи (без выбора глав) публикуются с Legacy=true и проходят
// прямой путь pending -> processing -> completed.
type GenerateTaskPayload struct {
	TaskID uuid.UUID `json:"task_id"`
	UserID uuid.UUID `json:"user_id"`
	Legacy bool      `json:"legacy,omitempty"`
}
