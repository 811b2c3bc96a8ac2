package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SegmentPayload - разобранный ответ модели для одного шага истории.
// Для финального шага Question пустой и Choices == nil.
type SegmentPayload struct {
	Story    string
	Question string
	Choices  []string
}

const choiceCount = 3

// MalformedFallback возвращает безопасный сегмент, который подставляется
// вместо синтаксически или структурно некорректного ответа модели.
func MalformedFallback(final bool) SegmentPayload {
	if final {
		return SegmentPayload{Story: "And they all lived happily ever after... (almost!)."}
	}
	return SegmentPayload{
		Story:    "The story reached a confusing point!",
		Question: "Try again?",
		Choices:  []string{"Yes", "No", "Maybe"},
	}
}

// CallFailureFallback возвращает сегмент на случай, когда сам вызов AI API
// завершился ошибкой (таймаут, сеть, пустой ответ).
func CallFailureFallback(final bool) SegmentPayload {
	if final {
		return SegmentPayload{Story: "Oops! The connection fizzled."}
	}
	return SegmentPayload{
		Story:    "Oops! The connection fizzled.",
		Question: "Try again?",
		Choices:  []string{"Yes", "No", "Maybe"},
	}
}

// ParseSegmentResponse разбирает сырой текст модели в SegmentPayload.
// Функция тотальная: любой мусор на входе дает fallback-сегмент, ошибки
// наружу не возвращаются, история не прерывается из-за кривого JSON.
func ParseSegmentResponse(raw string, final bool) SegmentPayload {
	cleaned := stripCodeFences(raw)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return MalformedFallback(final)
	}

	story, ok := parsed["story"].(string)
	if !ok || strings.TrimSpace(story) == "" {
		return MalformedFallback(final)
	}

	if final {
		// Хвосты question/choices в финальном ответе игнорируются.
		return SegmentPayload{Story: story}
	}

	question, ok := parsed["question"].(string)
	if !ok || strings.TrimSpace(question) == "" {
		return MalformedFallback(final)
	}

	rawChoices, ok := parsed["choices"].([]interface{})
	if !ok || len(rawChoices) == 0 {
		return MalformedFallback(final)
	}

	choices := make([]string, 0, choiceCount)
	for _, c := range rawChoices {
		if len(choices) == choiceCount {
			break
		}
		if s, ok := c.(string); ok {
			choices = append(choices, s)
		} else {
			choices = append(choices, fmt.Sprint(c))
		}
	}
	for len(choices) < choiceCount {
		choices = append(choices, "…")
	}

	return SegmentPayload{Story: story, Question: question, Choices: choices}
}

// stripCodeFences убирает обертку ```json ... ```, которую модели любят
// добавлять даже в JSON-режиме.
func stripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
