package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"flashcard-server/internal/messaging"
	"flashcard-server/internal/models"
	"flashcard-server/internal/tasks"
)

// Фазы для меток метрик.
const (
	phaseAnalyze  = "analyze"
	phaseGenerate = "generate"
	phaseLegacy   = "legacy_generate"
)

// Временный сбой переигрывается не больше двух раз: quorum-очередь
// считает доставки в x-delivery-count, после лимита задача падает.
const maxTransientRetries = 2

// TaskCoordinator - подмножество координатора, нужное воркеру.
type TaskCoordinator interface {
	Analyze(ctx context.Context, taskID uuid.UUID) error
	RunGeneration(ctx context.Context, taskID uuid.UUID) error
	RunLegacyGeneration(ctx context.Context, taskID uuid.UUID) error
	FailTask(ctx context.Context, taskID uuid.UUID, message string) error
}

// Compile-time check
var _ TaskCoordinator = (*tasks.Coordinator)(nil)

// AnalyzeProcessor обрабатывает сообщения очереди анализа.
type AnalyzeProcessor struct {
	coordinator TaskCoordinator
	logger      *zap.Logger
}

// NewAnalyzeProcessor создает процессор фазы анализа.
func NewAnalyzeProcessor(coordinator TaskCoordinator, logger *zap.Logger) *AnalyzeProcessor {
	return &AnalyzeProcessor{
		coordinator: coordinator,
		logger:      logger.Named("AnalyzeProcessor"),
	}
}

// ProcessMessage разбирает задание анализа и запускает координатор.
func (p *AnalyzeProcessor) ProcessMessage(ctx context.Context, d amqp.Delivery) {
	var payload messaging.AnalyzeTaskPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		p.logger.Error("Failed to unmarshal analyze payload, rejecting",
			zap.Error(err), zap.String("body", string(d.Body)))
		_ = d.Nack(false, false) // Сообщение неисправимо, в очередь не возвращаем
		return
	}

	logFields := []zap.Field{zap.String("taskID", payload.TaskID.String())}
	p.logger.Info("Processing analyze task", logFields...)
	startTime := time.Now()

	err := p.coordinator.Analyze(ctx, payload.TaskID)
	duration := time.Since(startTime)

	if err != nil {
		if isRequeueable(err) && messaging.DeliveryCount(d) < maxTransientRetries {
			p.logger.Warn("Analyze failed transiently, requeueing",
				append(logFields, zap.Error(err), zap.Duration("duration", duration))...)
			MetricsIncrementRequeued(phaseAnalyze)
			_ = d.Nack(false, true)
			return
		}
		// Постоянная ошибка или исчерпанные повторы: сообщение больше
		// в очередь не возвращается, задача фиксируется как failed.
		if isRequeueable(err) {
			if failErr := p.coordinator.FailTask(ctx, payload.TaskID, "анализ документа не удался после нескольких попыток"); failErr != nil {
				p.logger.Error("Failed to mark task as failed", append(logFields, zap.Error(failErr))...)
			}
		}
		p.logger.Error("Analyze failed permanently",
			append(logFields, zap.Error(err), zap.Duration("duration", duration))...)
		MetricsRecordTask(phaseAnalyze, "error", duration)
		_ = d.Ack(false)
		return
	}

	MetricsRecordTask(phaseAnalyze, "success", duration)
	p.logger.Info("Analyze task processed", append(logFields, zap.Duration("duration", duration))...)
	_ = d.Ack(false)
}

// GenerateProcessor обрабатывает сообщения очереди генерации.
type GenerateProcessor struct {
	coordinator TaskCoordinator
	logger      *zap.Logger
}

// NewGenerateProcessor создает процессор фазы генерации.
func NewGenerateProcessor(coordinator TaskCoordinator, logger *zap.Logger) *GenerateProcessor {
	return &GenerateProcessor{
		coordinator: coordinator,
		logger:      logger.Named("GenerateProcessor"),
	}
}

// ProcessMessage разбирает задание генерации и запускает координатор.
// Legacy-задания идут по прямому пути без оглавления.
func (p *GenerateProcessor) ProcessMessage(ctx context.Context, d amqp.Delivery) {
	var payload messaging.GenerateTaskPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		p.logger.Error("Failed to unmarshal generate payload, rejecting",
			zap.Error(err), zap.String("body", string(d.Body)))
		_ = d.Nack(false, false)
		return
	}

	phase := phaseGenerate
	run := p.coordinator.RunGeneration
	if payload.Legacy {
		phase = phaseLegacy
		run = p.coordinator.RunLegacyGeneration
	}

	logFields := []zap.Field{zap.String("taskID", payload.TaskID.String()), zap.String("phase", phase)}
	p.logger.Info("Processing generate task", logFields...)
	startTime := time.Now()

	err := run(ctx, payload.TaskID)
	duration := time.Since(startTime)

	if err != nil {
		if isRequeueable(err) && messaging.DeliveryCount(d) < maxTransientRetries {
			p.logger.Warn("Generation failed transiently, requeueing",
				append(logFields, zap.Error(err), zap.Duration("duration", duration))...)
			MetricsIncrementRequeued(phase)
			_ = d.Nack(false, true)
			return
		}
		if isRequeueable(err) {
			if failErr := p.coordinator.FailTask(ctx, payload.TaskID, "генерация карточек не удалась после нескольких попыток"); failErr != nil {
				p.logger.Error("Failed to mark task as failed", append(logFields, zap.Error(failErr))...)
			}
		}
		p.logger.Error("Generation failed permanently",
			append(logFields, zap.Error(err), zap.Duration("duration", duration))...)
		MetricsRecordTask(phase, "error", duration)
		_ = d.Ack(false)
		return
	}

	MetricsRecordTask(phase, "success", duration)
	p.logger.Info("Generate task processed", append(logFields, zap.Duration("duration", duration))...)
	_ = d.Ack(false)
}

// isRequeueable отделяет временные сбои (сеть, БД, отмена контекста)
// от постоянных (нечитаемый источник, нехватка кредитов, невалидный
// переход): постоянные уже зафиксированы в статусе задачи, и возврат
// сообщения в очередь ничего не исправит.
func isRequeueable(err error) bool {
	switch {
	case errors.Is(err, models.ErrUnreadableSource),
		errors.Is(err, models.ErrSourceFetchFailed),
		errors.Is(err, models.ErrInsufficientCredits),
		errors.Is(err, models.ErrAIResponseMalformed),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrTaskNotFound),
		errors.Is(err, models.ErrInvalidInput):
		return false
	}
	return true
}
