package models

import (
	"time"

	"github.com/google/uuid"
)

// Flashcard - значение без идентичности до сохранения в виде Card.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// Deck - колода карточек, результат успешной генерации.
type Deck struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"userId"`
	TaskID    uuid.UUID `db:"task_id" json:"taskId"`
	Title     string    `db:"title" json:"title"`
	CardCount int       `db:"card_count" json:"cardCount"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Card - сохраненная карточка. Position сохраняет порядок после merge.
type Card struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DeckID    uuid.UUID `db:"deck_id" json:"deckId"`
	Front     string    `db:"front" json:"front"`
	Back      string    `db:"back" json:"back"`
	Position  int       `db:"position" json:"position"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// User - минимальная проекция пользователя для биллинга.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Balance   float64   `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// CreditEntry - запись леджера списаний. UNIQUE(task_id, phase) в БД
// обеспечивает идемпотентность повторного списания.
type CreditEntry struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	TaskID    uuid.UUID `db:"task_id"`
	Phase     string    `db:"phase"`
	Amount    float64   `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// Фазы списания кредитов.
const (
	CreditPhaseIndexing = "indexing"
	CreditPhaseCreation = "creation"
	CreditPhaseLegacy   = "legacy"
)
