package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"flashcard-server/internal/models"
)

// Документ короче этого числа символов считается нечитаемым:
// из него не выйдет ни одной осмысленной карточки.
const minDocumentRunes = 10

// Лимит на размер скачиваемого по URL документа.
const maxFetchBytes = 20 << 20 // 20 MiB

// SourceResolver превращает ссылку на источник задачи в текст документа.
type SourceResolver struct {
	store      SourceStore
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSourceResolver создает резолвер источников.
func NewSourceResolver(store SourceStore, fetchTimeout time.Duration, logger *zap.Logger) *SourceResolver {
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	return &SourceResolver{
		store: store,
		httpClient: &http.Client{
			Timeout: fetchTimeout,
		},
		logger: logger.Named("SourceResolver"),
	}
}

// Resolve возвращает текст документа для задачи в зависимости от типа
// источника. Текст валидируется на читаемость.
func (r *SourceResolver) Resolve(ctx context.Context, task *models.GenerationTask) (string, error) {
	var (
		text string
		err  error
	)
	switch task.SourceType {
	case models.SourceTypeText:
		text = task.SourceContent
	case models.SourceTypeFile:
		text, err = r.resolveFile(ctx, task.SourceContent)
	case models.SourceTypeURL, models.SourceTypeVideo:
		// Для video источник - URL страницы с транскриптом.
		text, err = r.fetchURL(ctx, task.SourceURL)
	default:
		return "", fmt.Errorf("%w: неизвестный тип источника '%s'", models.ErrInvalidInput, task.SourceType)
	}
	if err != nil {
		return "", err
	}

	if utf8.RuneCountInString(strings.TrimSpace(text)) < minDocumentRunes {
		r.logger.Warn("Document too short to be readable",
			zap.String("taskID", task.ID.String()),
			zap.String("sourceType", string(task.SourceType)))
		return "", models.ErrUnreadableSource
	}
	return text, nil
}

// resolveFile читает загруженный файл из объектного хранилища.
// SourceContent у файловых задач хранит имя объекта.
func (r *SourceResolver) resolveFile(ctx context.Context, objectName string) (string, error) {
	if objectName == "" {
		return "", fmt.Errorf("%w: пустое имя объекта", models.ErrInvalidInput)
	}
	data, err := r.store.Get(ctx, objectName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSourceFetchFailed, err)
	}
	if !utf8.Valid(data) {
		return "", models.ErrUnreadableSource
	}
	return string(data), nil
}

// fetchURL скачивает документ по URL.
func (r *SourceResolver) fetchURL(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("%w: пустой URL", models.ErrInvalidInput)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("Failed to fetch source URL", zap.String("url", rawURL), zap.Error(err))
		return "", fmt.Errorf("%w: %v", models.ErrSourceFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d", models.ErrSourceFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSourceFetchFailed, err)
	}
	if !utf8.Valid(data) {
		return "", models.ErrUnreadableSource
	}
	return string(data), nil
}
