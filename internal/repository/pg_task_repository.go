package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"flashcard-server/internal/models"
)

// Compile-time check
var _ TaskRepository = (*pgTaskRepository)(nil)

type pgTaskRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPgTaskRepository создает репозиторий задач поверх PostgreSQL.
func NewPgTaskRepository(db DBTX, logger *zap.Logger) TaskRepository {
	return &pgTaskRepository{
		db:     db,
		logger: logger.Named("PgTaskRepo"),
	}
}

const taskColumns = `
    id, user_id, status, source_type, source_content, source_url, source_filename,
    document_text, document_outline, selected_chapters, total_chunks, completed_chunks,
    credits_cost, indexing_cost, card_count, error_message, deck_id,
    created_at, started_at, completed_at`

// Create сохраняет новую задачу.
func (r *pgTaskRepository) Create(ctx context.Context, task *models.GenerationTask) error {
	query := `
        INSERT INTO generation_tasks
            (id, user_id, status, source_type, source_content, source_url, source_filename, created_at)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	logFields := []zap.Field{zap.String("taskID", task.ID.String()), zap.String("userID", task.UserID.String())}
	r.logger.Debug("Creating generation task", logFields...)

	_, err := r.db.Exec(ctx, query,
		task.ID,
		task.UserID,
		task.Status,
		task.SourceType,
		task.SourceContent,
		task.SourceURL,
		task.SourceFilename,
		task.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create generation task", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка создания задачи: %w", err)
	}
	r.logger.Info("Generation task created", logFields...)
	return nil
}

// GetByID возвращает задачу по идентификатору.
func (r *pgTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error) {
	query := `SELECT` + taskColumns + ` FROM generation_tasks WHERE id = $1`
	logFields := []zap.Field{zap.String("taskID", id.String())}
	r.logger.Debug("Getting task by ID", logFields...)

	row := r.db.QueryRow(ctx, query, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("Task not found by ID", logFields...)
			return nil, models.ErrTaskNotFound
		}
		r.logger.Error("Failed to get task by ID", append(logFields, zap.Error(err))...)
		return nil, fmt.Errorf("ошибка получения задачи: %w", err)
	}
	return task, nil
}

// ListByUserID возвращает задачи пользователя, свежие первыми.
func (r *pgTaskRepository) ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]models.GenerationTask, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `
        SELECT id, user_id, status, source_type, source_url, source_filename,
               total_chunks, completed_chunks, credits_cost, indexing_cost,
               card_count, error_message, deck_id, created_at, started_at, completed_at
        FROM generation_tasks
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
	var tasks []models.GenerationTask
	err := pgxscan.Select(ctx, r.db, &tasks, query, userID, limit)
	if err != nil {
		r.logger.Error("Failed to list tasks by user", zap.String("userID", userID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения списка задач: %w", err)
	}
	return tasks, nil
}

// UpdateStatus переводит задачу в новый статус с проверкой допустимых исходных.
func (r *pgTaskRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from []models.TaskStatus, to models.TaskStatus) error {
	query := `
        UPDATE generation_tasks
        SET status = $2,
            started_at = CASE WHEN started_at IS NULL AND $2 IN ('analyzing', 'processing', 'generating') THEN NOW() ELSE started_at END
        WHERE id = $1 AND status = ANY($3)
    `
	fromStr := make([]string, len(from))
	for i, s := range from {
		fromStr[i] = string(s)
	}
	logFields := []zap.Field{zap.String("taskID", id.String()), zap.String("to", string(to)), zap.Strings("from", fromStr)}

	tag, err := r.db.Exec(ctx, query, id, to, fromStr)
	if err != nil {
		r.logger.Error("Failed to update task status", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка смены статуса задачи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Либо задачи нет, либо она не в ожидаемом статусе.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		r.logger.Warn("Task status transition rejected", logFields...)
		return models.ErrInvalidTransition
	}
	r.logger.Info("Task status updated", logFields...)
	return nil
}

// SetOutline сохраняет оглавление и стоимость индексации.
func (r *pgTaskRepository) SetOutline(ctx context.Context, id uuid.UUID, outline *models.DocumentOutline, indexingCost float64) error {
	outlineJSON, err := json.Marshal(outline)
	if err != nil {
		return fmt.Errorf("ошибка сериализации оглавления: %w", err)
	}
	query := `
        UPDATE generation_tasks
        SET document_outline = $2, indexing_cost = $3
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query, id, outlineJSON, indexingCost)
	if err != nil {
		r.logger.Error("Failed to set task outline", zap.String("taskID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка сохранения оглавления: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

// SetGenerationPlan фиксирует выбранные главы, число чанков и стоимость генерации.
func (r *pgTaskRepository) SetGenerationPlan(ctx context.Context, id uuid.UUID, chapters []int, totalChunks int, creditsCost float64) error {
	chaptersJSON, err := json.Marshal(chapters)
	if err != nil {
		return fmt.Errorf("ошибка сериализации списка глав: %w", err)
	}
	query := `
        UPDATE generation_tasks
        SET selected_chapters = $2, total_chunks = $3, completed_chunks = 0, credits_cost = $4
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query, id, chaptersJSON, totalChunks, creditsCost)
	if err != nil {
		r.logger.Error("Failed to set generation plan", zap.String("taskID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка сохранения плана генерации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

// SetDocumentText кэширует распарсенный текст документа.
func (r *pgTaskRepository) SetDocumentText(ctx context.Context, id uuid.UUID, text string) error {
	query := `UPDATE generation_tasks SET document_text = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, text)
	if err != nil {
		r.logger.Error("Failed to cache document text", zap.String("taskID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка сохранения текста документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

// IncrementCompletedChunks атомарно увеличивает счетчик обработанных чанков
// и возвращает новое значение.
func (r *pgTaskRepository) IncrementCompletedChunks(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
        UPDATE generation_tasks
        SET completed_chunks = completed_chunks + 1
        WHERE id = $1
        RETURNING completed_chunks
    `
	var completed int
	err := r.db.QueryRow(ctx, query, id).Scan(&completed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrTaskNotFound
		}
		return 0, fmt.Errorf("ошибка инкремента счетчика чанков: %w", err)
	}
	return completed, nil
}

// Complete переводит задачу в completed с результатами.
func (r *pgTaskRepository) Complete(ctx context.Context, id uuid.UUID, deckID uuid.UUID, cardCount int) error {
	query := `
        UPDATE generation_tasks
        SET status = 'completed', deck_id = $2, card_count = $3, completed_at = NOW()
        WHERE id = $1 AND status NOT IN ('completed', 'failed')
    `
	logFields := []zap.Field{zap.String("taskID", id.String()), zap.String("deckID", deckID.String()), zap.Int("cardCount", cardCount)}

	tag, err := r.db.Exec(ctx, query, id, deckID, cardCount)
	if err != nil {
		r.logger.Error("Failed to complete task", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка завершения задачи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return models.ErrInvalidTransition
	}
	r.logger.Info("Task completed", logFields...)
	return nil
}

// Fail переводит задачу в failed с текстом ошибки. Терминальные задачи
// не трогаем: completed не может стать failed.
func (r *pgTaskRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := `
        UPDATE generation_tasks
        SET status = 'failed', error_message = $2, completed_at = NOW()
        WHERE id = $1 AND status NOT IN ('completed', 'failed')
    `
	tag, err := r.db.Exec(ctx, query, id, errorMessage)
	if err != nil {
		r.logger.Error("Failed to mark task as failed", zap.String("taskID", id.String()), zap.Error(err))
		return fmt.Errorf("ошибка перевода задачи в failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		r.logger.Warn("Task already terminal, fail ignored", zap.String("taskID", id.String()))
		return nil
	}
	r.logger.Info("Task marked as failed", zap.String("taskID", id.String()), zap.String("error", errorMessage))
	return nil
}

// MarkStepDone фиксирует выполнение шага. Возвращает false, если шаг
// уже был зафиксирован ранее.
func (r *pgTaskRepository) MarkStepDone(ctx context.Context, taskID uuid.UUID, stepName string) (bool, error) {
	query := `
        INSERT INTO task_steps (task_id, step_name, completed_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (task_id, step_name) DO NOTHING
    `
	tag, err := r.db.Exec(ctx, query, taskID, stepName)
	if err != nil {
		r.logger.Error("Failed to mark step done", zap.String("taskID", taskID.String()), zap.String("step", stepName), zap.Error(err))
		return false, fmt.Errorf("ошибка фиксации шага '%s': %w", stepName, err)
	}
	return tag.RowsAffected() > 0, nil
}

// IsStepDone проверяет, был ли шаг выполнен.
func (r *pgTaskRepository) IsStepDone(ctx context.Context, taskID uuid.UUID, stepName string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM task_steps WHERE task_id = $1 AND step_name = $2)`
	var done bool
	err := r.db.QueryRow(ctx, query, taskID, stepName).Scan(&done)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки шага '%s': %w", stepName, err)
	}
	return done, nil
}

// scanTask читает полную строку задачи, разворачивая JSONB-поля.
func scanTask(row pgx.Row) (*models.GenerationTask, error) {
	task := &models.GenerationTask{}
	var outlineJSON, chaptersJSON []byte

	err := row.Scan(
		&task.ID, &task.UserID, &task.Status, &task.SourceType,
		&task.SourceContent, &task.SourceURL, &task.SourceFilename,
		&task.DocumentText, &outlineJSON, &chaptersJSON,
		&task.TotalChunks, &task.CompletedChunks,
		&task.CreditsCost, &task.IndexingCost,
		&task.CardCount, &task.ErrorMessage, &task.DeckID,
		&task.CreatedAt, &task.StartedAt, &task.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(outlineJSON) > 0 {
		var outline models.DocumentOutline
		if err := json.Unmarshal(outlineJSON, &outline); err != nil {
			return nil, fmt.Errorf("ошибка десериализации оглавления: %w", err)
		}
		task.DocumentOutline = &outline
	}
	if len(chaptersJSON) > 0 {
		if err := json.Unmarshal(chaptersJSON, &task.SelectedChapters); err != nil {
			return nil, fmt.Errorf("ошибка десериализации списка глав: %w", err)
		}
	}
	return task, nil
}
