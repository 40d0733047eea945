package models

// TextRange - диапазон символов в documentText (полуинтервал [Start, End)).
type TextRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ChapterInfo описывает одну главу, найденную при анализе документа.
// Index стабилен после присвоения и отражает порядок по TextRange.Start.
type ChapterInfo struct {
	Index           int       `json:"index"`
	Title           string    `json:"title"`
	Summary         string    `json:"summary"`
	StartPage       int       `json:"startPage"`
	EndPage         int       `json:"endPage"`
	EstimatedTokens int       `json:"estimatedTokens"`
	TextRange       TextRange `json:"textRange"`
}

// DocumentOutline - результат фазы анализа. Контракт: Chapters никогда
// не пуст (при полном провале резолвинга подставляется синтетическая глава
// на весь документ).
type DocumentOutline struct {
	TotalPages  int           `json:"totalPages"`
	TotalTokens int           `json:"totalTokens"`
	Chapters    []ChapterInfo `json:"chapters"`
}

// TextChunk - фрагмент текста, отправляемый в LLM одним запросом.
// Не персистится: сохраняются только полученные из него карточки.
type TextChunk struct {
	Index       int
	Text        string
	TokenCount  int
	StartOffset int
	EndOffset   int
}
