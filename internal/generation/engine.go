package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flashcard-server/internal/ai"
	"flashcard-server/internal/chunker"
	"flashcard-server/internal/models"
	"flashcard-server/internal/utils"
)

const cardsSystemPrompt = `Ты - ассистент, создающий учебные флеш-карточки по фрагменту документа.
Составь карточки "вопрос-ответ" по ключевым фактам и определениям фрагмента.
Верни ТОЛЬКО валидный JSON без пояснений, строго в формате:
{"cards":[{"front":"...","back":"..."}]}
Front - короткий вопрос или термин, back - точный ответ или определение.
Не придумывай факты, которых нет во фрагменте.`

// Config - параметры движка генерации.
type Config struct {
	ChunkMaxTokens   int
	ChunkOverlap     int
	ChunkConcurrency int           // Потолок параллельных запросов к AI в рамках задачи
	AIMaxAttempts    int           // Попытки на один чанк
	AIBaseRetryDelay time.Duration // Базовая задержка экспоненциального бэкоффа
	AITimeout        time.Duration
}

// Result - итог генерации по всем чанкам.
type Result struct {
	Cards        []models.Flashcard
	TotalChunks  int
	FailedChunks int
}

// Engine генерирует карточки по тексту: режет его на чанки, опрашивает
// модель параллельно и сливает результаты с дедупликацией.
type Engine struct {
	aiClient ai.Client
	chunker  *chunker.Chunker
	cfg      Config
	logger   *zap.Logger
}

// NewEngine создает движок генерации.
func NewEngine(aiClient ai.Client, ch *chunker.Chunker, cfg Config, logger *zap.Logger) *Engine {
	if cfg.ChunkConcurrency <= 0 {
		cfg.ChunkConcurrency = 5
	}
	if cfg.AIMaxAttempts <= 0 {
		cfg.AIMaxAttempts = 3
	}
	if cfg.AIBaseRetryDelay <= 0 {
		cfg.AIBaseRetryDelay = time.Second
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = 2 * time.Minute
	}
	return &Engine{
		aiClient: aiClient,
		chunker:  ch,
		cfg:      cfg,
		logger:   logger.Named("GenerationEngine"),
	}
}

// ExtractSelectedText возвращает конкатенацию текста выбранных глав в
// порядке их следования в документе. Индексы вне оглавления игнорируются.
func ExtractSelectedText(documentText string, outline *models.DocumentOutline, selected []int) string {
	if outline == nil || len(outline.Chapters) == 0 || len(selected) == 0 {
		return documentText
	}

	wanted := make(map[int]bool, len(selected))
	for _, idx := range selected {
		wanted[idx] = true
	}

	var ranges []models.TextRange
	for _, ch := range outline.Chapters {
		if wanted[ch.Index] {
			ranges = append(ranges, ch.TextRange)
		}
	}
	if len(ranges) == 0 {
		return ""
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	var sb strings.Builder
	for i, r := range ranges {
		if r.Start < 0 || r.End > len(documentText) || r.Start >= r.End {
			continue
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(documentText[r.Start:r.End])
	}
	return sb.String()
}

// PlanChunks режет текст на чанки генерации. Число чанков фиксируется
// в задаче до старта, чтобы прогресс считался от известного знаменателя.
func (e *Engine) PlanChunks(text string) []models.TextChunk {
	return e.chunker.Split(text, chunker.Options{
		MaxTokens: e.cfg.ChunkMaxTokens,
		Overlap:   e.cfg.ChunkOverlap,
	})
}

// Generate опрашивает модель по всем чанкам и возвращает слитый
// дедуплицированный список карточек. Ошибка одного чанка не роняет
// задачу: чанк дает пустой результат и учитывается в FailedChunks.
// onChunkDone вызывается после завершения каждого чанка (успех или провал).
func (e *Engine) Generate(ctx context.Context, chunks []models.TextChunk, onChunkDone func(ctx context.Context)) (Result, error) {
	result := Result{TotalChunks: len(chunks)}
	if len(chunks) == 0 {
		return result, nil
	}

	// Результаты по индексам чанков: порядок слияния детерминирован
	// и не зависит от порядка завершения горутин.
	perChunk := make([][]models.Flashcard, len(chunks))
	failed := make([]bool, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ChunkConcurrency)

	for i := range chunks {
		chunk := chunks[i]
		g.Go(func() error {
			cards, err := e.generateChunk(gctx, chunk)
			if err != nil {
				// Изоляция сбоя: чанк дает пустую пачку.
				e.logger.Warn("Chunk generation failed, continuing without it",
					zap.Int("chunkIndex", chunk.Index), zap.Error(err))
				failed[chunk.Index] = true
			} else {
				perChunk[chunk.Index] = cards
			}
			if onChunkDone != nil {
				onChunkDone(gctx)
			}
			return nil
		})
	}
	// Воркеры не возвращают ошибок, Wait нужен только как барьер.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	for _, f := range failed {
		if f {
			result.FailedChunks++
		}
	}
	result.Cards = mergeAndDeduplicate(perChunk)

	e.logger.Info("Generation finished",
		zap.Int("totalChunks", result.TotalChunks),
		zap.Int("failedChunks", result.FailedChunks),
		zap.Int("cards", len(result.Cards)))
	return result, nil
}

// ответ модели
type cardsResponse struct {
	Cards []models.Flashcard `json:"cards"`
}

// generateChunk опрашивает модель по одному чанку с ретраями.
func (e *Engine) generateChunk(ctx context.Context, chunk models.TextChunk) ([]models.Flashcard, error) {
	var lastErr error
	baseDelay := e.cfg.AIBaseRetryDelay

	for attempt := 1; attempt <= e.cfg.AIMaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.AITimeout)
		response, _, err := e.aiClient.Complete(callCtx, ai.CompletionRequest{
			SystemPrompt: cardsSystemPrompt,
			UserInput:    chunk.Text,
			JSONMode:     true,
		})
		cancel()

		if err == nil {
			cards, parseErr := parseCards(response)
			if parseErr == nil {
				return cards, nil
			}
			// Невалидный JSON тоже повод для ретрая: модель может
			// ответить корректно со второй попытки.
			lastErr = parseErr
			e.logger.Warn("Malformed AI response for chunk",
				zap.Int("chunkIndex", chunk.Index), zap.Int("attempt", attempt), zap.Error(parseErr))
		} else {
			lastErr = err
		}

		if attempt == e.cfg.AIMaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay := float64(baseDelay) * math.Pow(2, float64(attempt-1))
		jitter := delay * 0.1
		delay += jitter * (rand.Float64()*2 - 1)
		waitDuration := time.Duration(delay)
		if waitDuration < baseDelay {
			waitDuration = baseDelay
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waitDuration):
		}
	}
	return nil, fmt.Errorf("чанк %d: исчерпаны попытки: %w", chunk.Index, lastErr)
}

// parseCards извлекает и валидирует карточки из ответа модели.
func parseCards(response string) ([]models.Flashcard, error) {
	jsonContent := utils.ExtractJsonContent(response)
	if jsonContent == "" {
		return nil, fmt.Errorf("%w: в ответе нет JSON", models.ErrAIResponseMalformed)
	}
	var parsed cardsResponse
	// Модель иногда отдает голый массив вместо объекта с ключом cards.
	if strings.HasPrefix(jsonContent, "[") {
		if err := json.Unmarshal([]byte(jsonContent), &parsed.Cards); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrAIResponseMalformed, err)
		}
	} else if err := json.Unmarshal([]byte(jsonContent), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAIResponseMalformed, err)
	}

	cards := make([]models.Flashcard, 0, len(parsed.Cards))
	for _, card := range parsed.Cards {
		if strings.TrimSpace(card.Front) == "" || strings.TrimSpace(card.Back) == "" {
			continue
		}
		cards = append(cards, models.Flashcard{
			Front: strings.TrimSpace(card.Front),
			Back:  strings.TrimSpace(card.Back),
		})
	}
	return cards, nil
}

// mergeAndDeduplicate сливает карточки в порядке индексов чанков.
// Дубликаты определяются по нормализованному front (нижний регистр,
// обрезанные пробелы), выигрывает первое вхождение.
func mergeAndDeduplicate(perChunk [][]models.Flashcard) []models.Flashcard {
	var merged []models.Flashcard
	seen := make(map[string]bool)

	for _, cards := range perChunk {
		for _, card := range cards {
			key := strings.ToLower(strings.TrimSpace(card.Front))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, card)
		}
	}
	return merged
}
