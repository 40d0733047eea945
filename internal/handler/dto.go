package handler

import (
	"time"

	"flashcard-server/internal/models"

	"github.com/google/uuid"
)

// createTaskRequest - запрос на создание задачи генерации.
// Для text обязателен content, для url и video - url.
type createTaskRequest struct {
	UserID     uuid.UUID `json:"userId" binding:"required"`
	SourceType string    `json:"sourceType" binding:"required"`
	Content    string    `json:"content"`
	URL        string    `json:"url"`
	// Legacy принудительно отправляет url/video по прямому пути без оглавления.
	// Для text прямой путь используется всегда.
	Legacy bool `json:"legacy"`
}

// selectChaptersRequest - выбор глав для фазы генерации.
type selectChaptersRequest struct {
	Chapters []int `json:"chapters" binding:"required"`
}

// chapterResponse - проекция главы для клиента (без внутренних смещений).
type chapterResponse struct {
	Index           int    `json:"index"`
	Title           string `json:"title"`
	Summary         string `json:"summary,omitempty"`
	StartPage       int    `json:"startPage"`
	EndPage         int    `json:"endPage"`
	EstimatedTokens int    `json:"estimatedTokens"`
}

// outlineResponse - проекция оглавления документа.
type outlineResponse struct {
	TotalPages  int               `json:"totalPages"`
	TotalTokens int               `json:"totalTokens"`
	Chapters    []chapterResponse `json:"chapters"`
}

// taskResponse - проекция задачи для клиента. Исходный текст документа
// и символьные диапазоны наружу не отдаются.
type taskResponse struct {
	ID               uuid.UUID        `json:"id"`
	Status           string           `json:"status"`
	SourceType       string           `json:"sourceType"`
	SourceURL        string           `json:"sourceUrl,omitempty"`
	SourceFilename   string           `json:"sourceFilename,omitempty"`
	Outline          *outlineResponse `json:"outline,omitempty"`
	SelectedChapters []int            `json:"selectedChapters,omitempty"`
	TotalChunks      int              `json:"totalChunks"`
	CompletedChunks  int              `json:"completedChunks"`
	Progress         int              `json:"progress"`
	CreditsCost      float64          `json:"creditsCost"`
	IndexingCost     float64          `json:"indexingCost"`
	CardCount        int              `json:"cardCount"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	DeckID           *uuid.UUID       `json:"deckId,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	StartedAt        *time.Time       `json:"startedAt,omitempty"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
}

// deckResponse - колода вместе с карточками в порядке position.
type deckResponse struct {
	ID        uuid.UUID      `json:"id"`
	UserID    uuid.UUID      `json:"userId"`
	TaskID    uuid.UUID      `json:"taskId"`
	Title     string         `json:"title"`
	CardCount int            `json:"cardCount"`
	CreatedAt time.Time      `json:"createdAt"`
	Cards     []cardResponse `json:"cards"`
}

// cardResponse - одна карточка колоды.
type cardResponse struct {
	ID       uuid.UUID `json:"id"`
	Front    string    `json:"front"`
	Back     string    `json:"back"`
	Position int       `json:"position"`
}

func toOutlineResponse(outline *models.DocumentOutline) *outlineResponse {
	if outline == nil {
		return nil
	}
	chapters := make([]chapterResponse, 0, len(outline.Chapters))
	for _, ch := range outline.Chapters {
		chapters = append(chapters, chapterResponse{
			Index:           ch.Index,
			Title:           ch.Title,
			Summary:         ch.Summary,
			StartPage:       ch.StartPage,
			EndPage:         ch.EndPage,
			EstimatedTokens: ch.EstimatedTokens,
		})
	}
	return &outlineResponse{
		TotalPages:  outline.TotalPages,
		TotalTokens: outline.TotalTokens,
		Chapters:    chapters,
	}
}

func toTaskResponse(task *models.GenerationTask) taskResponse {
	progress := 0
	if task.TotalChunks > 0 {
		progress = task.CompletedChunks * 100 / task.TotalChunks
	}
	if task.Status == models.TaskStatusCompleted {
		progress = 100
	}

	return taskResponse{
		ID:               task.ID,
		Status:           string(task.Status),
		SourceType:       string(task.SourceType),
		SourceURL:        task.SourceURL,
		SourceFilename:   task.SourceFilename,
		Outline:          toOutlineResponse(task.DocumentOutline),
		SelectedChapters: task.SelectedChapters,
		TotalChunks:      task.TotalChunks,
		CompletedChunks:  task.CompletedChunks,
		Progress:         progress,
		CreditsCost:      task.CreditsCost,
		IndexingCost:     task.IndexingCost,
		CardCount:        task.CardCount,
		ErrorMessage:     task.ErrorMessage,
		DeckID:           task.DeckID,
		CreatedAt:        task.CreatedAt,
		StartedAt:        task.StartedAt,
		CompletedAt:      task.CompletedAt,
	}
}

func toDeckResponse(deck *models.Deck, cards []models.Card) deckResponse {
	cardDTOs := make([]cardResponse, 0, len(cards))
	for _, card := range cards {
		cardDTOs = append(cardDTOs, cardResponse{
			ID:       card.ID,
			Front:    card.Front,
			Back:     card.Back,
			Position: card.Position,
		})
	}
	return deckResponse{
		ID:        deck.ID,
		UserID:    deck.UserID,
		TaskID:    deck.TaskID,
		Title:     deck.Title,
		CardCount: deck.CardCount,
		CreatedAt: deck.CreatedAt,
		Cards:     cardDTOs,
	}
}
