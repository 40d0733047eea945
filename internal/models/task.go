package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus представляет статус задачи генерации.
type TaskStatus string

// Возможные статусы задачи генерации.
const (
	TaskStatusPending      TaskStatus = "pending"
	TaskStatusAnalyzing    TaskStatus = "analyzing"
	TaskStatusOutlineReady TaskStatus = "outline_ready"
	// TaskStatusProcessing - легаси-путь: прямая генерация без оглавления.
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusGenerating TaskStatus = "generating"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal возвращает true, если задача в терминальном статусе и
// дальнейшие изменения полей запрещены.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// SourceType тип источника документа.
type SourceType string

const (
	SourceTypeText  SourceType = "text"
	SourceTypeFile  SourceType = "file"
	SourceTypeURL   SourceType = "url"
	SourceTypeVideo SourceType = "video"
)

// GenerationTask - единица работы пайплайна документа -> колода карточек.
// Единственная мутабельная сущность ядра; все изменения полей проходят
// через шаги координатора.
type GenerationTask struct {
	ID     uuid.UUID  `db:"id" json:"id"`
	UserID uuid.UUID  `db:"user_id" json:"userId"`
	Status TaskStatus `db:"status" json:"status"`

	SourceType SourceType `db:"source_type" json:"sourceType"`
	// Взаимоисключающие ссылки на исходник (ровно одна заполнена по SourceType).
	SourceContent  string `db:"source_content" json:"-"`
	SourceURL      string `db:"source_url" json:"sourceUrl,omitempty"`
	SourceFilename string `db:"source_filename" json:"sourceFilename,omitempty"`

	// DocumentText кэшируется после первого парсинга, чтобы фаза генерации
	// не ходила в хранилище повторно.
	DocumentText     string           `db:"document_text" json:"-"`
	DocumentOutline  *DocumentOutline `db:"document_outline" json:"documentOutline,omitempty"`
	SelectedChapters []int            `db:"selected_chapters" json:"selectedChapters,omitempty"`

	TotalChunks     int `db:"total_chunks" json:"totalChunks"`
	CompletedChunks int `db:"completed_chunks" json:"completedChunks"`

	// CreditsCost и IndexingCost неизменяемы после списания.
	CreditsCost  float64 `db:"credits_cost" json:"creditsCost"`
	IndexingCost float64 `db:"indexing_cost" json:"indexingCost"`

	CardCount    int        `db:"card_count" json:"cardCount"`
	ErrorMessage string     `db:"error_message" json:"errorMessage,omitempty"`
	DeckID       *uuid.UUID `db:"deck_id" json:"deckId,omitempty"`

	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	StartedAt   *time.Time `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// TaskStep - запись журнала шагов (идемпотентность повторных запусков).
// Уникальность (task_id, step_name) гарантирует, что завершенный шаг
// не выполняется повторно после рестарта воркера.
type TaskStep struct {
	TaskID      uuid.UUID `db:"task_id"`
	StepName    string    `db:"step_name"`
	CompletedAt time.Time `db:"completed_at"`
}

// Имена шагов журнала.
const (
	StepAnalyze        = "analyze"
	StepDebitIndexing  = "debit_indexing"
	StepDebitCreation  = "debit_creation"
	StepGenerate       = "generate"
	StepLegacyGenerate = "legacy_generate"
)
