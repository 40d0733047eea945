package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"flashcard-server/internal/models"
)

// DBTX - общий интерфейс для пула и транзакции pgx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TaskRepository определяет методы для работы с задачами генерации.
type TaskRepository interface {
	Create(ctx context.Context, task *models.GenerationTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationTask, error)
	ListByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]models.GenerationTask, error)
	// UpdateStatus переводит задачу в новый статус, допуская только переходы,
	// разрешенные из переданных ожидаемых статусов. Возвращает
	// models.ErrInvalidTransition, если задача не в одном из них.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []models.TaskStatus, to models.TaskStatus) error
	SetOutline(ctx context.Context, id uuid.UUID, outline *models.DocumentOutline, indexingCost float64) error
	SetGenerationPlan(ctx context.Context, id uuid.UUID, chapters []int, totalChunks int, creditsCost float64) error
	SetDocumentText(ctx context.Context, id uuid.UUID, text string) error
	IncrementCompletedChunks(ctx context.Context, id uuid.UUID) (int, error)
	Complete(ctx context.Context, id uuid.UUID, deckID uuid.UUID, cardCount int) error
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) error
	// MarkStepDone фиксирует выполнение шага задачи. Повторная фиксация
	// того же шага не ошибка и возвращает false.
	MarkStepDone(ctx context.Context, taskID uuid.UUID, stepName string) (bool, error)
	IsStepDone(ctx context.Context, taskID uuid.UUID, stepName string) (bool, error)
}

// DeckRepository определяет методы для работы с колодами и карточками.
type DeckRepository interface {
	// CreateWithCards сохраняет колоду и все ее карточки атомарно.
	CreateWithCards(ctx context.Context, deck *models.Deck, cards []models.Flashcard) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deck, error)
	GetCards(ctx context.Context, deckID uuid.UUID) ([]models.Card, error)
}

// CreditRepository определяет методы для работы с балансом и списаниями.
type CreditRepository interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (float64, error)
	// Debit списывает amount кредитов за фазу phase задачи taskID.
	// Списание идемпотентно по паре (taskID, phase): повтор не списывает
	// второй раз и возвращает false. При нехватке средств возвращает
	// models.ErrInsufficientCredits, баланс не меняется.
	Debit(ctx context.Context, userID uuid.UUID, taskID uuid.UUID, phase string, amount float64) (bool, error)
	Credit(ctx context.Context, userID uuid.UUID, amount float64) error
}

// ProgressCounter - атомарный счетчик прогресса по чанкам (Redis).
type ProgressCounter interface {
	Increment(ctx context.Context, taskID uuid.UUID) (int64, error)
	Get(ctx context.Context, taskID uuid.UUID) (int64, error)
	Reset(ctx context.Context, taskID uuid.UUID) error
}
