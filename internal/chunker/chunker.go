package chunker

import (
	"regexp"
	"strings"

	"flashcard-server/internal/models"
)

// Strategy определяет, по каким границам резать текст.
type Strategy string

const (
	StrategyParagraph Strategy = "paragraph"
	StrategySentence  Strategy = "sentence"
	StrategyFixed     Strategy = "fixed"
)

// Options - параметры нарезки.
type Options struct {
	MaxTokens int      // Верхняя граница токенов на чанк
	Overlap   int      // Перекрытие между соседними чанками (в токенах)
	Strategy  Strategy // Стратегия по умолчанию - paragraph
}

// TokenCounter - точный счетчик токенов (internal/token.Counter).
type TokenCounter interface {
	Count(text string) int
}

const (
	DefaultMaxTokens = 3500
	DefaultOverlap   = 200
)

var (
	paragraphSplitRegex = regexp.MustCompile(`\n\s*\n`)
	sentenceEndRegex    = regexp.MustCompile(`[.!?。！？]\s+`)
)

// Chunker режет текст на ограниченные по токенам перекрывающиеся фрагменты,
// предпочитая семантические границы (абзац, затем предложение) слепому
// усечению.
type Chunker struct {
	counter TokenCounter
}

// New создает Chunker поверх точного счетчика токенов.
func New(counter TokenCounter) *Chunker {
	return &Chunker{counter: counter}
}

func (o *Options) fillDefaults() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	// Перекрытие не меньше лимита гарантированно зацикливает fixed-нарезку.
	if o.Overlap >= o.MaxTokens {
		o.Overlap = o.MaxTokens / 4
	}
	if o.Strategy == "" {
		o.Strategy = StrategyParagraph
	}
}

// Split режет текст на чанки. Пустой вход дает пустой список (не ошибку).
// Если весь текст укладывается в MaxTokens, возвращается ровно один чанк
// без накладных расходов на разбор.
func (c *Chunker) Split(text string, opts Options) []models.TextChunk {
	opts.fillDefaults()

	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.counter.Count(text) <= opts.MaxTokens {
		return []models.TextChunk{{
			Index:       0,
			Text:        text,
			TokenCount:  c.counter.Count(text),
			StartOffset: 0,
			EndOffset:   len(text),
		}}
	}

	var pieces []piece
	switch opts.Strategy {
	case StrategySentence:
		pieces = splitPieces(text, sentenceBoundaries(text))
	case StrategyFixed:
		return c.reindex(c.splitFixed(text, 0, opts))
	default:
		pieces = splitPieces(text, paragraphBoundaries(text))
	}

	return c.reindex(c.accumulate(pieces, opts))
}

// piece - элемент текста с его позицией в оригинале.
type piece struct {
	text  string
	start int
	end   int
}

func paragraphBoundaries(text string) [][]int {
	return paragraphSplitRegex.FindAllStringIndex(text, -1)
}

func sentenceBoundaries(text string) [][]int {
	return sentenceEndRegex.FindAllStringIndex(text, -1)
}

// splitPieces режет текст по найденным разделителям, сохраняя смещения.
func splitPieces(text string, seps [][]int) []piece {
	var pieces []piece
	prev := 0
	for _, sep := range seps {
		if sep[0] > prev {
			pieces = append(pieces, piece{text: text[prev:sep[0]], start: prev, end: sep[0]})
		}
		prev = sep[1]
	}
	if prev < len(text) {
		pieces = append(pieces, piece{text: text[prev:], start: prev, end: len(text)})
	}
	return pieces
}

// accumulate жадно набирает куски в чанк, пока добавление следующего не
// превысит лимит. Закрытый чанк отдает хвост ~Overlap токенов следующему,
// чтобы LLM видела контекст через границу.
func (c *Chunker) accumulate(pieces []piece, opts Options) []models.TextChunk {
	var chunks []models.TextChunk
	var current strings.Builder
	currentStart := -1
	currentEnd := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunkText := current.String()
		chunks = append(chunks, models.TextChunk{
			Text:        chunkText,
			TokenCount:  c.counter.Count(chunkText),
			StartOffset: currentStart,
			EndOffset:   currentEnd,
		})
		// Следующий чанк начинается с хвоста закрытого.
		overlap := c.overlapSuffix(chunkText, opts.Overlap)
		current.Reset()
		if overlap != "" {
			current.WriteString(overlap)
		}
		currentStart = -1
	}

	for _, p := range pieces {
		if strings.TrimSpace(p.text) == "" {
			continue
		}

		candidate := p.text
		if current.Len() > 0 {
			candidate = current.String() + "\n\n" + p.text
		}

		if c.counter.Count(candidate) > opts.MaxTokens {
			if current.Len() > 0 && currentStart >= 0 {
				flush()
			} else if current.Len() > 0 {
				// В буфере только перекрытие от прошлого чанка -
				// жертвуем им, но не превышаем лимит.
				current.Reset()
			}
			// Одиночный кусок не лезет в лимит даже в пустой чанк:
			// спускаемся на уровень ниже (предложения, затем fixed).
			if c.counter.Count(p.text) > opts.MaxTokens {
				sub := c.splitOversized(p, opts)
				chunks = append(chunks, sub...)
				current.Reset()
				currentStart = -1
				continue
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p.text)
		if currentStart < 0 {
			currentStart = p.start
		}
		currentEnd = p.end
	}

	if current.Len() > 0 && currentStart >= 0 {
		chunkText := current.String()
		chunks = append(chunks, models.TextChunk{
			Text:        chunkText,
			TokenCount:  c.counter.Count(chunkText),
			StartOffset: currentStart,
			EndOffset:   currentEnd,
		})
	}
	return chunks
}

// splitOversized режет кусок, не влезающий в лимит целиком: сначала по
// предложениям, при их отсутствии - fixed-нарезкой по токенам.
func (c *Chunker) splitOversized(p piece, opts Options) []models.TextChunk {
	if seps := sentenceBoundaries(p.text); len(seps) > 0 {
		subPieces := splitPieces(p.text, seps)
		for i := range subPieces {
			subPieces[i].start += p.start
			subPieces[i].end += p.start
		}
		// Рекурсия безопасна: каждый subPiece строго короче p,
		// а не влезающие по-прежнему уходят в fixed.
		subOpts := opts
		subOpts.Strategy = StrategySentence
		return c.accumulate(subPieces, subOpts)
	}
	return c.splitFixed(p.text, p.start, opts)
}

// splitFixed - нарезка без семантических границ: ровные окна по MaxTokens
// со сдвигом MaxTokens-Overlap. Каждая итерация строго продвигает смещение,
// поэтому цикл конечен для любых MaxTokens > Overlap.
func (c *Chunker) splitFixed(text string, baseOffset int, opts Options) []models.TextChunk {
	var chunks []models.TextChunk
	step := opts.MaxTokens - opts.Overlap

	offset := 0
	for offset < len(text) {
		window := c.takeTokens(text[offset:], opts.MaxTokens)
		if window == "" {
			break
		}
		chunks = append(chunks, models.TextChunk{
			Text:        window,
			TokenCount:  c.counter.Count(window),
			StartOffset: baseOffset + offset,
			EndOffset:   baseOffset + offset + len(window),
		})
		if offset+len(window) >= len(text) {
			break
		}
		advance := len(window) * step / opts.MaxTokens
		if advance <= 0 {
			advance = 1
		}
		offset += advance
	}
	return chunks
}

// takeTokens возвращает префикс текста примерно в maxTokens токенов,
// подбирая длину по средней плотности символов на токен.
func (c *Chunker) takeTokens(text string, maxTokens int) string {
	if c.counter.Count(text) <= maxTokens {
		return text
	}
	// Начальная оценка по средней плотности, затем уточнение.
	total := c.counter.Count(text)
	approx := len(text) * maxTokens / total
	if approx <= 0 {
		approx = 1
	}
	if approx > len(text) {
		approx = len(text)
	}
	// Не режем посреди UTF-8 последовательности.
	for approx < len(text) && !utf8Start(text[approx]) {
		approx++
	}
	candidate := text[:approx]
	for c.counter.Count(candidate) > maxTokens && approx > 1 {
		approx = approx * 9 / 10
		for approx > 0 && !utf8Start(text[approx]) {
			approx--
		}
		candidate = text[:approx]
	}
	return candidate
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// overlapSuffix возвращает хвост чанка размером примерно overlap токенов,
// рассчитанный через среднюю плотность символов на токен в этом чанке.
func (c *Chunker) overlapSuffix(chunkText string, overlap int) string {
	if overlap <= 0 || chunkText == "" {
		return ""
	}
	tokens := c.counter.Count(chunkText)
	if tokens <= overlap {
		return chunkText
	}
	charsPerToken := len(chunkText) / tokens
	if charsPerToken <= 0 {
		charsPerToken = 1
	}
	suffixLen := overlap * charsPerToken
	if suffixLen >= len(chunkText) {
		return chunkText
	}
	start := len(chunkText) - suffixLen
	for start < len(chunkText) && !utf8Start(chunkText[start]) {
		start++
	}
	return chunkText[start:]
}

// reindex присваивает чанкам последовательные индексы.
func (c *Chunker) reindex(chunks []models.TextChunk) []models.TextChunk {
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}
