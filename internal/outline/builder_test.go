package outline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flashcard-server/internal/ai"
	"flashcard-server/internal/mocks"
	"flashcard-server/internal/models"
)

// charCounter - счетчик для тестов: один токен на 4 символа.
type charCounter struct{}

func (charCounter) Count(text string) int { return (len(text) + 3) / 4 }

func (charCounter) Truncate(text string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

func newTestBuilder(t *testing.T, client ai.Client) *Builder {
	t.Helper()
	return NewBuilder(client, charCounter{}, Config{
		ContextTokens:     64000,
		OutputReservation: 4000,
		MaxChapters:       15,
		CharsPerPage:      100,
	}, zap.NewNop())
}

func TestBuild_ResolvesMarkers(t *testing.T) {
	doc := "Введение в предмет. Здесь вводные слова и определения, достаточно длинные для поиска.\n\n" +
		"Глава про методы. Основная часть документа с разбором методов и примеров применения.\n\n" +
		"Заключение и выводы. Краткое подведение итогов всего материала."

	aiClient := mocks.NewMockAIClient(t)
	aiClient.On("Complete", mock.Anything, mock.Anything).Return(
		`{"chapters":[
			{"title":"Введение","summary":"Вводная часть","start_marker":"Введение в предмет."},
			{"title":"Методы","summary":"Основная часть","start_marker":"Глава про методы."},
			{"title":"Заключение","summary":"Итоги","start_marker":"Заключение и выводы."}
		]}`,
		ai.UsageInfo{TotalTokens: 500}, nil)

	b := newTestBuilder(t, aiClient)
	outline, err := b.Build(context.Background(), doc)

	require.NoError(t, err)
	require.Len(t, outline.Chapters, 3)

	assert.Equal(t, 0, outline.Chapters[0].Index)
	assert.Equal(t, "Введение", outline.Chapters[0].Title)
	assert.Equal(t, 0, outline.Chapters[0].TextRange.Start)

	// Конец каждой главы - начало следующей, последняя до конца документа.
	assert.Equal(t, outline.Chapters[1].TextRange.Start, outline.Chapters[0].TextRange.End)
	assert.Equal(t, outline.Chapters[2].TextRange.Start, outline.Chapters[1].TextRange.End)
	assert.Equal(t, len(doc), outline.Chapters[2].TextRange.End)

	for _, ch := range outline.Chapters {
		assert.GreaterOrEqual(t, ch.EndPage, ch.StartPage)
		assert.Greater(t, ch.EstimatedTokens, 0)
	}
	aiClient.AssertExpectations(t)
}

func TestBuild_DropsUnresolvableMarkers(t *testing.T) {
	doc := "Первый раздел документа с достаточно длинным текстом для маркера.\n\n" +
		"Второй раздел документа, тоже длинный и самостоятельный по смыслу."

	aiClient := mocks.NewMockAIClient(t)
	aiClient.On("Complete", mock.Anything, mock.Anything).Return(
		`{"chapters":[
			{"title":"Есть","summary":"s","start_marker":"Первый раздел документа"},
			{"title":"Нет","summary":"s","start_marker":"Этой фразы в документе не существует вообще никак"}
		]}`,
		ai.UsageInfo{}, nil)

	b := newTestBuilder(t, aiClient)
	outline, err := b.Build(context.Background(), doc)

	require.NoError(t, err)
	require.Len(t, outline.Chapters, 1)
	assert.Equal(t, "Есть", outline.Chapters[0].Title)
	assert.Equal(t, len(doc), outline.Chapters[0].TextRange.End)
}

func TestBuild_AIErrorIsFatal(t *testing.T) {
	doc := "Какой-то документ, который модель не смогла разобрать на главы."

	apiErr := errors.New("api down")
	aiClient := mocks.NewMockAIClient(t)
	aiClient.On("Complete", mock.Anything, mock.Anything).Return(
		"", ai.UsageInfo{}, apiErr)

	b := newTestBuilder(t, aiClient)
	outline, err := b.Build(context.Background(), doc)

	require.Nil(t, outline)
	assert.ErrorIs(t, err, apiErr)
}

func TestBuild_MalformedJSONIsFatal(t *testing.T) {
	doc := "Документ с содержимым, на которое модель ответила не по формату."

	aiClient := mocks.NewMockAIClient(t)
	aiClient.On("Complete", mock.Anything, mock.Anything).Return(
		"извините, вот главы: глава 1, глава 2", ai.UsageInfo{}, nil)

	b := newTestBuilder(t, aiClient)
	outline, err := b.Build(context.Background(), doc)

	require.Nil(t, outline)
	assert.ErrorIs(t, err, models.ErrAIResponseMalformed)
}

func TestBuild_SyntheticFallbackWhenNoMarkerResolves(t *testing.T) {
	doc := "Документ с содержимым, в котором ни один маркер модели не находится."

	aiClient := mocks.NewMockAIClient(t)
	aiClient.On("Complete", mock.Anything, mock.Anything).Return(
		`{"chapters":[{"title":"Мимо","summary":"s","start_marker":"Этой фразы в тексте точно нет, совсем нигде и никак"}]}`,
		ai.UsageInfo{}, nil)

	b := newTestBuilder(t, aiClient)
	outline, err := b.Build(context.Background(), doc)

	require.NoError(t, err)
	require.Len(t, outline.Chapters, 1)
	assert.Equal(t, "Полный документ", outline.Chapters[0].Title)
	assert.Equal(t, 0, outline.Chapters[0].TextRange.Start)
	assert.Equal(t, len(doc), outline.Chapters[0].TextRange.End)
}

func TestBuild_EmptyDocument(t *testing.T) {
	aiClient := mocks.NewMockAIClient(t)
	b := newTestBuilder(t, aiClient)

	_, err := b.Build(context.Background(), "   ")
	assert.ErrorIs(t, err, models.ErrUnreadableSource)
}

func TestBuild_MarkerFoundByShortPrefix(t *testing.T) {
	doc := "Начало главы совпадает только частично с тем, что вернула модель, дальше текст другой."

	aiClient := mocks.NewMockAIClient(t)
	// Полный маркер не совпадает, но первые 20 символов - дословная цитата.
	aiClient.On("Complete", mock.Anything, mock.Anything).Return(
		`{"chapters":[{"title":"Глава","summary":"s","start_marker":"Начало главы совпадает с чем-то выдуманным моделью"}]}`,
		ai.UsageInfo{}, nil)

	b := newTestBuilder(t, aiClient)
	outline, err := b.Build(context.Background(), doc)

	require.NoError(t, err)
	require.Len(t, outline.Chapters, 1)
	assert.Equal(t, "Глава", outline.Chapters[0].Title)
	assert.Equal(t, 0, outline.Chapters[0].TextRange.Start)
}

func TestBuild_TruncatesLongDocument(t *testing.T) {
	// ~70k токенов при 4 символах на токен - больше окна 64k-4k.
	doc := strings.Repeat("Повторяющийся текст документа. ", 10000)

	var sentInput string
	aiClient := mocks.NewMockAIClient(t)
	aiClient.On("Complete", mock.Anything, mock.MatchedBy(func(req ai.CompletionRequest) bool {
		sentInput = req.UserInput
		return true
	})).Return(
		`{"chapters":[{"title":"Глава","summary":"s","start_marker":"Повторяющийся текст документа."}]}`,
		ai.UsageInfo{}, nil)

	b := newTestBuilder(t, aiClient)
	_, err := b.Build(context.Background(), doc)

	require.NoError(t, err)
	assert.Less(t, len(sentInput), len(doc), "prompt should be truncated")
	assert.LessOrEqual(t, charCounter{}.Count(sentInput), 60000)
}
