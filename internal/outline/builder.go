package outline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"flashcard-server/internal/ai"
	"flashcard-server/internal/models"
	"flashcard-server/internal/utils"
)

const outlineSystemPrompt = `Ты - ассистент, анализирующий структуру учебных документов.
Разбей предоставленный документ на логические главы (разделы).
Верни ТОЛЬКО валидный JSON без пояснений, строго в формате:
{"chapters":[{"title":"...","summary":"...","start_marker":"..."}]}
Где start_marker - ДОСЛОВНАЯ цитата первых слов главы из текста документа
(минимум 20 символов, скопированных без изменений). Порядок глав должен
соответствовать порядку в документе.`

// Markers короче этого не дают надежного поиска по тексту.
const minMarkerLen = 3

// TokenCounter - счетчик и усекатель токенов (internal/token.Counter).
type TokenCounter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// Config - параметры построения оглавления.
type Config struct {
	ContextTokens     int // Окно контекста модели
	OutputReservation int // Резерв токенов под ответ
	MaxChapters       int // Верхняя граница числа глав
	CharsPerPage      int // Условная страница для прогресса в UI
}

// Builder строит оглавление документа: просит модель выделить главы и
// привязывает их к точным смещениям в тексте через дословные маркеры начала.
type Builder struct {
	aiClient ai.Client
	counter  TokenCounter
	cfg      Config
	logger   *zap.Logger
}

// NewBuilder создает Builder.
func NewBuilder(aiClient ai.Client, counter TokenCounter, cfg Config, logger *zap.Logger) *Builder {
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = 64000
	}
	if cfg.OutputReservation <= 0 {
		cfg.OutputReservation = 4000
	}
	if cfg.MaxChapters <= 0 {
		cfg.MaxChapters = 15
	}
	if cfg.CharsPerPage <= 0 {
		cfg.CharsPerPage = 2000
	}
	return &Builder{
		aiClient: aiClient,
		counter:  counter,
		cfg:      cfg,
		logger:   logger.Named("OutlineBuilder"),
	}
}

// ответ модели
type chapterResponse struct {
	Chapters []rawChapter `json:"chapters"`
}

type rawChapter struct {
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	StartMarker string `json:"start_marker"`
}

// Build строит оглавление документа. Ошибка транспорта или невалидный JSON
// от модели фатальны для анализа и возвращаются вызывающему как есть. Если
// модель ответила корректно, но ни один маркер главы не привязался к тексту,
// весь документ оборачивается в одну синтетическую главу: валидный ответ
// модели никогда не дает пустого оглавления.
func (b *Builder) Build(ctx context.Context, documentText string) (*models.DocumentOutline, error) {
	if strings.TrimSpace(documentText) == "" {
		return nil, models.ErrUnreadableSource
	}

	totalTokens := b.counter.Count(documentText)

	// Документ больше окна контекста отправляем усеченным: маркеры из
	// префикса все равно ищутся по полному тексту.
	promptBudget := b.cfg.ContextTokens - b.cfg.OutputReservation
	promptText := documentText
	if totalTokens > promptBudget {
		promptText = b.counter.Truncate(documentText, promptBudget)
		b.logger.Info("Документ усечен для анализа",
			zap.Int("totalTokens", totalTokens),
			zap.Int("promptBudget", promptBudget))
	}

	chapters, err := b.requestChapters(ctx, promptText)
	if err != nil {
		return nil, fmt.Errorf("failed to get chapters from model: %w", err)
	}

	resolved := b.resolveChapters(documentText, chapters)
	if len(resolved) == 0 {
		b.logger.Warn("Ни один маркер главы не найден в тексте, используется синтетическая глава")
		resolved = []models.ChapterInfo{b.syntheticChapter(documentText)}
	}

	b.finalize(documentText, resolved)

	return &models.DocumentOutline{
		TotalPages:  pageCount(len(documentText), b.cfg.CharsPerPage),
		TotalTokens: totalTokens,
		Chapters:    resolved,
	}, nil
}

// requestChapters выполняет запрос к модели и разбирает JSON ответа.
func (b *Builder) requestChapters(ctx context.Context, promptText string) ([]rawChapter, error) {
	response, _, err := b.aiClient.Complete(ctx, ai.CompletionRequest{
		SystemPrompt: outlineSystemPrompt,
		UserInput:    promptText,
		JSONMode:     true,
	})
	if err != nil {
		return nil, err
	}

	jsonContent := utils.ExtractJsonContent(response)
	if jsonContent == "" {
		return nil, fmt.Errorf("%w: в ответе модели нет JSON", models.ErrAIResponseMalformed)
	}

	var parsed chapterResponse
	// Модель иногда отдает голый массив вместо объекта с ключом chapters.
	if strings.HasPrefix(jsonContent, "[") {
		if err := json.Unmarshal([]byte(jsonContent), &parsed.Chapters); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrAIResponseMalformed, err)
		}
	} else if err := json.Unmarshal([]byte(jsonContent), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAIResponseMalformed, err)
	}
	if len(parsed.Chapters) == 0 {
		return nil, fmt.Errorf("%w: пустой список глав", models.ErrAIResponseMalformed)
	}
	return parsed.Chapters, nil
}

// resolveChapters привязывает маркеры глав к смещениям в полном тексте.
// Маркер ищется сначала целиком, затем по первым 50 и 20 символам.
// Главы с ненайденными маркерами отбрасываются с предупреждением.
func (b *Builder) resolveChapters(documentText string, chapters []rawChapter) []models.ChapterInfo {
	var resolved []models.ChapterInfo
	searchFrom := 0

	for _, ch := range chapters {
		marker := strings.TrimSpace(ch.StartMarker)
		if len(marker) < minMarkerLen {
			b.logger.Warn("Маркер главы слишком короткий, глава пропущена", zap.String("title", ch.Title))
			continue
		}

		// Ищем от конца предыдущей найденной главы, чтобы повторяющиеся
		// фразы не привязывали главы в обратном порядке.
		offset := findMarker(documentText, marker, searchFrom)
		if offset < 0 {
			// Повторный поиск с начала, вдруг модель перепутала порядок.
			offset = findMarker(documentText, marker, 0)
		}
		if offset < 0 {
			b.logger.Warn("Маркер главы не найден в документе, глава пропущена",
				zap.String("title", ch.Title))
			continue
		}

		resolved = append(resolved, models.ChapterInfo{
			Title:   strings.TrimSpace(ch.Title),
			Summary: strings.TrimSpace(ch.Summary),
			TextRange: models.TextRange{
				Start: offset,
			},
		})
		searchFrom = offset + len(marker)

		if len(resolved) >= b.cfg.MaxChapters {
			b.logger.Warn("Достигнут лимит числа глав", zap.Int("maxChapters", b.cfg.MaxChapters))
			break
		}
	}
	return resolved
}

// findMarker ищет маркер с деградацией длины: целиком, 50 символов, 20.
func findMarker(text, marker string, from int) int {
	for _, prefixLen := range []int{len(marker), 50, 20} {
		if prefixLen > len(marker) {
			continue
		}
		needle := marker[:clampToRune(marker, prefixLen)]
		if needle == "" {
			continue
		}
		if idx := strings.Index(text[from:], needle); idx >= 0 {
			return from + idx
		}
	}
	return -1
}

// clampToRune сдвигает границу влево до начала UTF-8 последовательности.
func clampToRune(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return n
}

// finalize сортирует главы по смещению, проставляет индексы, концы
// диапазонов, страницы и оценку токенов.
func (b *Builder) finalize(documentText string, chapters []models.ChapterInfo) {
	sort.SliceStable(chapters, func(i, j int) bool {
		return chapters[i].TextRange.Start < chapters[j].TextRange.Start
	})

	for i := range chapters {
		chapters[i].Index = i
		if i+1 < len(chapters) {
			chapters[i].TextRange.End = chapters[i+1].TextRange.Start
		} else {
			chapters[i].TextRange.End = len(documentText)
		}

		chapters[i].StartPage = chapters[i].TextRange.Start/b.cfg.CharsPerPage + 1
		chapters[i].EndPage = pageCount(chapters[i].TextRange.End, b.cfg.CharsPerPage)
		if chapters[i].EndPage < chapters[i].StartPage {
			chapters[i].EndPage = chapters[i].StartPage
		}

		rangeText := documentText[chapters[i].TextRange.Start:chapters[i].TextRange.End]
		chapters[i].EstimatedTokens = b.counter.Count(rangeText)
	}
}

// syntheticChapter оборачивает весь документ в одну главу.
func (b *Builder) syntheticChapter(documentText string) models.ChapterInfo {
	return models.ChapterInfo{
		Title:   "Полный документ",
		Summary: "Документ целиком, структура глав не определена.",
		TextRange: models.TextRange{
			Start: 0,
			End:   len(documentText),
		},
	}
}

// pageCount - число условных страниц для end символов: ceil(end/charsPerPage),
// минимум 1.
func pageCount(chars, charsPerPage int) int {
	if chars <= 0 {
		return 1
	}
	return (chars + charsPerPage - 1) / charsPerPage
}
