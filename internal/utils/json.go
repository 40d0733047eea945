package utils

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Регулярное выражение для извлечения JSON из ```json ... ``` блока.
// (?s) - флаг: '.' совпадает с символом новой строки.
var jsonBlockRegex = regexp.MustCompile(`(?s)` + "```" + `(?:\w+)?\s*(.*?)\s*` + "```")

// isValidJson проверяет, что строка является валидным JSON.
func isValidJson(s string) bool {
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}

// ExtractJsonContent извлекает JSON из ответа модели: убирает обертку
// ```json ... ```, либо берет подстроку между первой { / [ и последней } / ].
// Возвращает пустую строку, если валидный JSON извлечь не удалось.
func ExtractJsonContent(rawText string) string {
	cleaned := strings.TrimSpace(rawText)
	if isValidJson(cleaned) {
		return cleaned
	}

	// 1. Пытаемся найти полный блок ```...```
	matches := jsonBlockRegex.FindStringSubmatch(cleaned)
	if len(matches) > 1 {
		candidate := strings.TrimSpace(matches[1])
		if isValidJson(candidate) {
			return candidate
		}
	}

	// 2. Неполная обертка: убираем ``` с краев.
	if strings.HasSuffix(cleaned, "```") {
		cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, "```"))
	}
	if strings.HasPrefix(cleaned, "```") {
		if firstNewline := strings.Index(cleaned, "\n"); firstNewline != -1 {
			cleaned = strings.TrimSpace(cleaned[firstNewline+1:])
		} else {
			cleaned = strings.TrimSpace(strings.TrimPrefix(cleaned, "```"))
		}
	}
	if isValidJson(cleaned) {
		return cleaned
	}

	// 3. Подстрока между первой {/[ и последней }/].
	firstBrace := strings.Index(cleaned, "{")
	firstBracket := strings.Index(cleaned, "[")
	start, end := -1, -1
	if firstBrace != -1 && (firstBracket == -1 || firstBrace < firstBracket) {
		start = firstBrace
		end = strings.LastIndex(cleaned, "}")
	} else if firstBracket != -1 {
		start = firstBracket
		end = strings.LastIndex(cleaned, "]")
	}
	if start != -1 && end > start {
		candidate := cleaned[start : end+1]
		if isValidJson(candidate) {
			return candidate
		}
	}

	return ""
}
