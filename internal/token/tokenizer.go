package token

import (
	"fmt"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// defaultEncoding используется, когда для модели нет своей таблицы токенов.
const defaultEncoding = "cl100k_base"

// Counter считает и усекает токены через tiktoken. Потокобезопасен:
// tiktoken.Tiktoken не хранит состояние между вызовами Encode/Decode.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter создает счетчик токенов для указанной модели. Если модель
// неизвестна tiktoken, используется кодировка cl100k_base.
func NewCounter(modelName string) (*Counter, error) {
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("не удалось получить кодировку токенов: %w", err)
		}
	}
	return &Counter{enc: enc}, nil
}

// Count возвращает точное количество токенов в тексте.
// Биллинг считается ТОЛЬКО от этого значения, никогда от Estimate.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Truncate усекает текст до maxTokens, декодируя первые maxTokens токенов
// обратно в строку. Границы токенов соблюдаются, поэтому многобайтовые
// последовательности не рвутся посреди символа.
func (c *Counter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return c.enc.Decode(tokens[:maxTokens])
}

// Estimate - дешевая клиентская оценка: CJK-символы ~2 символа на токен,
// остальные ~4. Округление вверх. С точным Count совпадать не обязана.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	cjk, other := 0, 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	// ceil(cjk/2 + other/4) в целочисленной арифметике
	return (cjk*2 + other + 3) / 4
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
