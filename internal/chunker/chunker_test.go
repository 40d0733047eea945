package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashcard-server/internal/models"
)

// wordCounter - простой счетчик для тестов: один токен на слово.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func TestSplit_EmptyInput(t *testing.T) {
	c := New(wordCounter{})

	assert.Empty(t, c.Split("", Options{MaxTokens: 100}))
	assert.Empty(t, c.Split("   \n\n  ", Options{MaxTokens: 100}))
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	c := New(wordCounter{})
	text := "Короткий текст, который целиком влезает в лимит."

	chunks := c.Split(text, Options{MaxTokens: 100})

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(text), chunks[0].EndOffset)
}

func TestSplit_ParagraphBoundaries(t *testing.T) {
	c := New(wordCounter{})
	paras := []string{
		strings.Repeat("alpha ", 8),
		strings.Repeat("beta ", 8),
		strings.Repeat("gamma ", 8),
		strings.Repeat("delta ", 8),
	}
	text := strings.Join(paras, "\n\n")

	chunks := c.Split(text, Options{MaxTokens: 18, Overlap: 0})

	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, ch.TokenCount, 18)
	}
	// Каждый абзац должен встретиться хотя бы в одном чанке.
	joined := strings.Join(chunkTexts(chunks), "\n")
	assert.Contains(t, joined, "alpha")
	assert.Contains(t, joined, "beta")
	assert.Contains(t, joined, "gamma")
	assert.Contains(t, joined, "delta")
}

func TestSplit_OverlapCarriesTail(t *testing.T) {
	c := New(wordCounter{})
	paras := []string{
		strings.Repeat("one ", 10),
		strings.Repeat("two ", 10),
		strings.Repeat("three ", 10),
	}
	text := strings.Join(paras, "\n\n")

	chunks := c.Split(text, Options{MaxTokens: 15, Overlap: 3})

	require.Greater(t, len(chunks), 1)
	// Второй чанк начинается с хвоста первого.
	tail := lastWords(chunks[0].Text, 1)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(chunks[1].Text), tail),
		"chunk 1 should start with overlap from chunk 0")
}

func TestSplit_OversizedParagraphFallsBackToSentences(t *testing.T) {
	c := New(wordCounter{})
	// Один абзац без пустых строк, но с предложениями.
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		sb.WriteString(strings.Repeat("word ", 5))
		sb.WriteString("end. ")
	}
	text := sb.String()

	chunks := c.Split(text, Options{MaxTokens: 15, Overlap: 0})

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, 15)
	}
}

func TestSplit_NoBoundariesTerminates(t *testing.T) {
	c := New(wordCounter{})
	// Сплошной поток слов без абзацев и знаков конца предложения.
	text := strings.TrimSpace(strings.Repeat("token ", 200))

	chunks := c.Split(text, Options{MaxTokens: 30, Overlap: 5})

	require.NotEmpty(t, chunks)
	// Покрытие: последний чанк доходит до конца текста.
	last := chunks[len(chunks)-1]
	assert.Equal(t, len(text), last.EndOffset)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.NotEmpty(t, ch.Text)
	}
}

func TestSplit_OffsetsMonotonic(t *testing.T) {
	c := New(wordCounter{})
	paras := make([]string, 10)
	for i := range paras {
		paras[i] = strings.Repeat("pp ", 10)
	}
	text := strings.Join(paras, "\n\n")

	chunks := c.Split(text, Options{MaxTokens: 25, Overlap: 0})

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		assert.Greater(t, chunks[i].StartOffset, chunks[i-1].StartOffset)
	}
}

func TestFillDefaults_OverlapClamped(t *testing.T) {
	opts := Options{MaxTokens: 100, Overlap: 150}
	opts.fillDefaults()

	assert.Less(t, opts.Overlap, opts.MaxTokens)
}

func chunkTexts(chunks []models.TextChunk) []string {
	out := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		out = append(out, ch.Text)
	}
	return out
}

func lastWords(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) < n {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[len(fields)-n:], " ")
}
