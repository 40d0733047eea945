package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flashcard-server/internal/billing"
	"flashcard-server/internal/generation"
	"flashcard-server/internal/models"
	"flashcard-server/internal/repository"
)

// SourceResolver превращает источник задачи в текст документа.
type SourceResolver interface {
	Resolve(ctx context.Context, task *models.GenerationTask) (string, error)
}

// OutlineBuilder строит оглавление документа.
type OutlineBuilder interface {
	Build(ctx context.Context, documentText string) (*models.DocumentOutline, error)
}

// CardGenerator планирует чанки и генерирует карточки.
type CardGenerator interface {
	PlanChunks(text string) []models.TextChunk
	Generate(ctx context.Context, chunks []models.TextChunk, onChunkDone func(ctx context.Context)) (generation.Result, error)
}

// Coordinator ведет задачу по конвейеру: анализ, выбор глав, генерация.
// Каждая фаза идемпотентна: журнал шагов и леджер списаний позволяют
// безопасно переобработать сообщение после рестарта воркера.
type Coordinator struct {
	tasks    repository.TaskRepository
	decks    repository.DeckRepository
	credits  repository.CreditRepository
	progress repository.ProgressCounter
	resolver SourceResolver
	outliner OutlineBuilder
	engine   CardGenerator
	logger   *zap.Logger
}

// NewCoordinator создает координатор пайплайна.
func NewCoordinator(
	tasks repository.TaskRepository,
	decks repository.DeckRepository,
	credits repository.CreditRepository,
	progress repository.ProgressCounter,
	resolver SourceResolver,
	outliner OutlineBuilder,
	engine CardGenerator,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		tasks:    tasks,
		decks:    decks,
		credits:  credits,
		progress: progress,
		resolver: resolver,
		outliner: outliner,
		engine:   engine,
		logger:   logger.Named("Coordinator"),
	}
}

// Analyze выполняет фазу анализа: парсинг источника, построение
// оглавления, списание стоимости индексации, статус outline_ready.
func (c *Coordinator) Analyze(ctx context.Context, taskID uuid.UUID) error {
	logFields := []zap.Field{zap.String("taskID", taskID.String())}

	done, err := c.tasks.IsStepDone(ctx, taskID, models.StepAnalyze)
	if err != nil {
		return err
	}
	if done {
		c.logger.Info("Analyze step already completed, skipping", logFields...)
		return nil
	}

	task, err := c.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		c.logger.Warn("Task is terminal, analyze skipped", logFields...)
		return nil
	}

	// pending -> analyzing; повторная доставка застает analyzing.
	err = c.tasks.UpdateStatus(ctx, taskID,
		[]models.TaskStatus{models.TaskStatusPending, models.TaskStatusAnalyzing},
		models.TaskStatusAnalyzing)
	if err != nil {
		return err
	}

	text := task.DocumentText
	if text == "" {
		text, err = c.resolver.Resolve(ctx, task)
		if err != nil {
			return c.failTask(ctx, taskID, fmt.Sprintf("источник нечитаем: %v", err), err)
		}
		if err := c.tasks.SetDocumentText(ctx, taskID, text); err != nil {
			return err
		}
	}

	// Невалидный JSON в ответе модели фатален для анализа: синтетической
	// главы здесь нет, задача падает без списания. Прочие ошибки (сеть,
	// таймаут провайдера) отдаем наверх, их переиграет очередь.
	outline, err := c.outliner.Build(ctx, text)
	if err != nil {
		if errors.Is(err, models.ErrAIResponseMalformed) || errors.Is(err, models.ErrUnreadableSource) {
			return c.failTask(ctx, taskID, fmt.Sprintf("ошибка анализа документа: %v", err), err)
		}
		return err
	}

	indexingCost := billing.IndexingCost(outline.TotalTokens)
	_, err = c.credits.Debit(ctx, task.UserID, taskID, models.CreditPhaseIndexing, indexingCost)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientCredits) {
			return c.failTask(ctx, taskID, "недостаточно кредитов для анализа документа", err)
		}
		return err
	}

	if err := c.tasks.SetOutline(ctx, taskID, outline, indexingCost); err != nil {
		return err
	}
	err = c.tasks.UpdateStatus(ctx, taskID,
		[]models.TaskStatus{models.TaskStatusAnalyzing},
		models.TaskStatusOutlineReady)
	if err != nil {
		return err
	}

	if _, err := c.tasks.MarkStepDone(ctx, taskID, models.StepAnalyze); err != nil {
		return err
	}
	c.logger.Info("Analyze phase completed",
		append(logFields,
			zap.Int("chapters", len(outline.Chapters)),
			zap.Int("totalTokens", outline.TotalTokens),
			zap.Float64("indexingCost", indexingCost))...)
	return nil
}

// StartGeneration фиксирует выбор глав, списывает стоимость генерации и
// переводит задачу в generating. Вызывается из API до публикации задания.
func (c *Coordinator) StartGeneration(ctx context.Context, taskID uuid.UUID, selectedChapters []int) (*models.GenerationTask, error) {
	if len(selectedChapters) == 0 {
		return nil, models.ErrChaptersNotSelected
	}

	task, err := c.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusOutlineReady {
		return nil, models.ErrInvalidTransition
	}
	if task.DocumentOutline == nil || len(task.DocumentOutline.Chapters) == 0 {
		return nil, models.ErrInvalidTransition
	}

	// Валидация индексов и подсчет токенов выбранных глав.
	selectedTokens := 0
	known := make(map[int]models.ChapterInfo, len(task.DocumentOutline.Chapters))
	for _, ch := range task.DocumentOutline.Chapters {
		known[ch.Index] = ch
	}
	seen := make(map[int]bool, len(selectedChapters))
	for _, idx := range selectedChapters {
		ch, ok := known[idx]
		if !ok {
			return nil, fmt.Errorf("%w: глава %d отсутствует в оглавлении", models.ErrInvalidInput, idx)
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		selectedTokens += ch.EstimatedTokens
	}

	creationCost := billing.CreationCost(selectedTokens)
	_, err = c.credits.Debit(ctx, task.UserID, taskID, models.CreditPhaseCreation, creationCost)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientCredits) {
			return nil, c.failTask(ctx, taskID, "недостаточно кредитов для генерации карточек", err)
		}
		return nil, err
	}

	selectedText := generation.ExtractSelectedText(task.DocumentText, task.DocumentOutline, selectedChapters)
	chunks := c.engine.PlanChunks(selectedText)

	if err := c.tasks.SetGenerationPlan(ctx, taskID, selectedChapters, len(chunks), creationCost); err != nil {
		return nil, err
	}
	err = c.tasks.UpdateStatus(ctx, taskID,
		[]models.TaskStatus{models.TaskStatusOutlineReady},
		models.TaskStatusGenerating)
	if err != nil {
		return nil, err
	}
	if err := c.progress.Reset(ctx, taskID); err != nil {
		c.logger.Warn("Failed to reset progress counter", zap.String("taskID", taskID.String()), zap.Error(err))
	}

	c.logger.Info("Generation started",
		zap.String("taskID", taskID.String()),
		zap.Ints("chapters", selectedChapters),
		zap.Int("totalChunks", len(chunks)),
		zap.Float64("creationCost", creationCost))

	return c.tasks.GetByID(ctx, taskID)
}

// RunGeneration выполняет фазу генерации: чанки, фан-аут к модели,
// слияние, сохранение колоды, статус completed.
func (c *Coordinator) RunGeneration(ctx context.Context, taskID uuid.UUID) error {
	logFields := []zap.Field{zap.String("taskID", taskID.String())}

	done, err := c.tasks.IsStepDone(ctx, taskID, models.StepGenerate)
	if err != nil {
		return err
	}
	if done {
		c.logger.Info("Generate step already completed, skipping", logFields...)
		return nil
	}

	task, err := c.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		c.logger.Warn("Task is terminal, generation skipped", logFields...)
		return nil
	}
	if task.Status != models.TaskStatusGenerating {
		return models.ErrInvalidTransition
	}

	selectedText := generation.ExtractSelectedText(task.DocumentText, task.DocumentOutline, task.SelectedChapters)
	chunks := c.engine.PlanChunks(selectedText)

	return c.generateAndPersist(ctx, task, chunks)
}

// RunLegacyGeneration выполняет legacy-путь: без оглавления и выбора глав,
// с фиксированной стоимостью по типу источника.
func (c *Coordinator) RunLegacyGeneration(ctx context.Context, taskID uuid.UUID) error {
	logFields := []zap.Field{zap.String("taskID", taskID.String())}

	done, err := c.tasks.IsStepDone(ctx, taskID, models.StepLegacyGenerate)
	if err != nil {
		return err
	}
	if done {
		c.logger.Info("Legacy generate step already completed, skipping", logFields...)
		return nil
	}

	task, err := c.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		c.logger.Warn("Task is terminal, legacy generation skipped", logFields...)
		return nil
	}

	err = c.tasks.UpdateStatus(ctx, taskID,
		[]models.TaskStatus{models.TaskStatusPending, models.TaskStatusProcessing},
		models.TaskStatusProcessing)
	if err != nil {
		return err
	}

	flatFee := billing.LegacyFlatFee(task.SourceType)
	_, err = c.credits.Debit(ctx, task.UserID, taskID, models.CreditPhaseLegacy, flatFee)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientCredits) {
			return c.failTask(ctx, taskID, "недостаточно кредитов для генерации", err)
		}
		return err
	}

	text := task.DocumentText
	if text == "" {
		text, err = c.resolver.Resolve(ctx, task)
		if err != nil {
			return c.failTask(ctx, taskID, fmt.Sprintf("источник нечитаем: %v", err), err)
		}
		if err := c.tasks.SetDocumentText(ctx, taskID, text); err != nil {
			return err
		}
	}

	chunks := c.engine.PlanChunks(text)
	if err := c.tasks.SetGenerationPlan(ctx, taskID, nil, len(chunks), flatFee); err != nil {
		return err
	}

	// Перечитываем задачу: в ней обновился план.
	task, err = c.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	return c.generateAndPersist(ctx, task, chunks)
}

// generateAndPersist - общий хвост обеих фаз генерации.
func (c *Coordinator) generateAndPersist(ctx context.Context, task *models.GenerationTask, chunks []models.TextChunk) error {
	taskID := task.ID
	logFields := []zap.Field{zap.String("taskID", taskID.String())}

	if len(chunks) == 0 {
		return c.failTask(ctx, taskID, "в выбранном тексте нет материала для карточек", models.ErrUnreadableSource)
	}

	result, err := c.engine.Generate(ctx, chunks, func(cbCtx context.Context) {
		if _, err := c.progress.Increment(cbCtx, taskID); err != nil {
			c.logger.Warn("Failed to increment progress in Redis", append(logFields, zap.Error(err))...)
		}
		if _, err := c.tasks.IncrementCompletedChunks(cbCtx, taskID); err != nil {
			c.logger.Warn("Failed to increment completed chunks", append(logFields, zap.Error(err))...)
		}
	})
	if err != nil {
		return err
	}

	if result.FailedChunks == result.TotalChunks {
		return c.failTask(ctx, taskID, "все фрагменты документа завершились ошибкой генерации", models.ErrAIResponseMalformed)
	}
	if len(result.Cards) == 0 {
		return c.failTask(ctx, taskID, "модель не сгенерировала ни одной карточки", models.ErrAIResponseMalformed)
	}

	deck := &models.Deck{
		ID:        uuid.New(),
		UserID:    task.UserID,
		TaskID:    taskID,
		Title:     deckTitle(task),
		CreatedAt: time.Now().UTC(),
	}
	if err := c.decks.CreateWithCards(ctx, deck, result.Cards); err != nil {
		return err
	}
	if err := c.tasks.Complete(ctx, taskID, deck.ID, len(result.Cards)); err != nil {
		return err
	}

	stepName := models.StepGenerate
	if task.Status == models.TaskStatusProcessing {
		stepName = models.StepLegacyGenerate
	}
	if _, err := c.tasks.MarkStepDone(ctx, taskID, stepName); err != nil {
		return err
	}

	c.logger.Info("Generation phase completed",
		append(logFields,
			zap.String("deckID", deck.ID.String()),
			zap.Int("cards", len(result.Cards)),
			zap.Int("failedChunks", result.FailedChunks))...)
	return nil
}

// FailTask переводит задачу в failed с пользовательским сообщением.
// Вызывается воркером, когда временные сбои исчерпали лимит повторов
// и сообщение больше не возвращается в очередь.
func (c *Coordinator) FailTask(ctx context.Context, taskID uuid.UUID, message string) error {
	return c.tasks.Fail(ctx, taskID, message)
}

// failTask переводит задачу в failed и возвращает исходную ошибку.
func (c *Coordinator) failTask(ctx context.Context, taskID uuid.UUID, message string, cause error) error {
	if err := c.tasks.Fail(ctx, taskID, message); err != nil {
		c.logger.Error("Failed to mark task as failed",
			zap.String("taskID", taskID.String()), zap.Error(err))
	}
	return cause
}

// deckTitle выбирает название колоды: имя файла, заголовок первой главы
// или обрезанное начало текста.
func deckTitle(task *models.GenerationTask) string {
	if task.SourceFilename != "" {
		return task.SourceFilename
	}
	if task.DocumentOutline != nil && len(task.DocumentOutline.Chapters) > 0 {
		if title := task.DocumentOutline.Chapters[0].Title; title != "" && title != "Полный документ" {
			return title
		}
	}
	text := strings.TrimSpace(task.DocumentText)
	if text == "" {
		text = strings.TrimSpace(task.SourceContent)
	}
	runes := []rune(text)
	if len(runes) > 60 {
		return string(runes[:60]) + "..."
	}
	if len(runes) == 0 {
		return "Новая колода"
	}
	return string(runes)
}
