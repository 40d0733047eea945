package handler

import (
	"context"
	"errors"
	"net/http"

	"flashcard-server/internal/messaging"
	"flashcard-server/internal/models"
	"flashcard-server/internal/repository"
	"flashcard-server/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

// GenerationStarter запускает фазу генерации для задачи в статусе
// outline_ready (синхронная часть: валидация глав, списание, план чанков).
type GenerationStarter interface {
	StartGeneration(ctx context.Context, taskID uuid.UUID, selectedChapters []int) (*models.GenerationTask, error)
}

// TaskHandler обрабатывает HTTP запросы пайплайна генерации карточек.
type TaskHandler struct {
	tasks     repository.TaskRepository
	decks     repository.DeckRepository
	credits   repository.CreditRepository
	publisher messaging.TaskPublisher
	store     storage.SourceStore
	starter   GenerationStarter
	logger    *zap.Logger
}

// NewTaskHandler создает новый TaskHandler.
func NewTaskHandler(
	tasks repository.TaskRepository,
	decks repository.DeckRepository,
	credits repository.CreditRepository,
	publisher messaging.TaskPublisher,
	store storage.SourceStore,
	starter GenerationStarter,
	logger *zap.Logger,
) *TaskHandler {
	return &TaskHandler{
		tasks:     tasks,
		decks:     decks,
		credits:   credits,
		publisher: publisher,
		store:     store,
		starter:   starter,
		logger:    logger.Named("TaskHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API.
func (h *TaskHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/tasks", h.createTask)
		api.POST("/tasks/upload", h.uploadTask)
		api.GET("/tasks/:id", h.getTask)
		api.GET("/tasks", h.listTasks)
		api.POST("/tasks/:id/chapters", h.selectChapters)
		api.GET("/decks/:id", h.getDeck)
		api.GET("/users/:id/balance", h.getBalance)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func handleServiceError(c *gin.Context, err error, logger *zap.Logger) {
	var statusCode int
	var apiErr APIError

	switch {
	case errors.Is(err, models.ErrTaskNotFound),
		errors.Is(err, models.ErrDeckNotFound),
		errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrNotFound):
		statusCode = http.StatusNotFound
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrInsufficientCredits):
		statusCode = http.StatusPaymentRequired
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrInvalidTransition):
		statusCode = http.StatusConflict
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, models.ErrChaptersNotSelected),
		errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrUnreadableSource),
		errors.Is(err, models.ErrBadRequest):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Message: err.Error()}
	default:
		logger.Error("Unhandled internal error in handleServiceError", zap.Error(err))
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Message: "internal server error"}
	}

	c.AbortWithStatusJSON(statusCode, apiErr)
}
