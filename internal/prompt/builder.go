package prompt

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"storyteller-server/internal/domain"
)

// DefaultTokenBudget - бюджет токенов контекста по умолчанию (прошлые
// сегменты истории). Стилевые дескрипторы и последний сегмент включаются
// всегда, независимо от бюджета.
const DefaultTokenBudget = 2048

const contextEncoding = "cl100k_base"

// Builder строит промпты для текстового генератора в зависимости от позиции
// шага: initial, intermediate, penultimate или final.
type Builder struct {
	tokenBudget int
	encoder     *tiktoken.Tiktoken
}

// NewBuilder создает Builder с заданным бюджетом токенов контекста.
// Если бюджет <= 0, используется DefaultTokenBudget.
func NewBuilder(tokenBudget int) *Builder {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	// Оффлайн-загрузчик tiktoken может быть недоступен; в этом случае
	// падаем на грубую оценку по символам вместо точного подсчета.
	encoder, err := tiktoken.GetEncoding(contextEncoding)
	if err != nil {
		encoder = nil
	}
	return &Builder{
		tokenBudget: tokenBudget,
		encoder:     encoder,
	}
}

// countTokens возвращает число токенов в тексте. Без энкодера - оценка
// из расчета ~4 символа на токен.
func (b *Builder) countTokens(text string) int {
	if b.encoder != nil {
		return len(b.encoder.Encode(text, nil, nil))
	}
	return len([]rune(text))/4 + 1
}

// Build возвращает полный промпт для шага stepCount. userChoice пустой
// только для первого шага.
func (b *Builder) Build(session *domain.StorySession, stepCount, targetSteps int, userChoice string) string {
	switch {
	case stepCount <= 1:
		return b.buildInitial(session)
	case stepCount == targetSteps:
		return b.buildFinal(session, userChoice)
	case stepCount == targetSteps-1:
		return b.buildPenultimate(session, userChoice)
	default:
		return b.buildIntermediate(session, userChoice)
	}
}

// IsFinal сообщает, относится ли шаг к финальному шаблону (JSON только со story).
func IsFinal(stepCount, targetSteps int) bool {
	return stepCount >= targetSteps
}

func (b *Builder) buildInitial(s *domain.StorySession) string {
	context := fmt.Sprintf(
		"Start a children's story (around 50-70 words, simple language) with:\nStyle: %s\nCharacter: %s\nSetting: %s\nTheme: %s",
		s.Style, s.Character, s.Setting, s.Theme,
	)
	return wrapContinuation(context)
}

func (b *Builder) buildIntermediate(s *domain.StorySession, userChoice string) string {
	context := fmt.Sprintf(
		"Continue this children's story based on the user choice.\nStory So Far:\n%s\n\nUser chose: %q.\n\nWrite the next short part (around 50-70 words). Maintain style: %s, character: %s, setting: %s, theme: %s.",
		b.storySoFar(s), userChoice, s.Style, s.Character, s.Setting, s.Theme,
	)
	return wrapContinuation(context)
}

func (b *Builder) buildPenultimate(s *domain.StorySession, userChoice string) string {
	context := fmt.Sprintf(
		"Continue this children's story based on the user choice.\nStory So Far:\n%s\n\nUser chose: %q.\n\nWrite the next short part (around 50-70 words). Begin steering the story toward a natural, happy ending: the part after this one will be the last. Maintain style: %s, character: %s, setting: %s, theme: %s.",
		b.storySoFar(s), userChoice, s.Style, s.Character, s.Setting, s.Theme,
	)
	return wrapContinuation(context)
}

func (b *Builder) buildFinal(s *domain.StorySession, userChoice string) string {
	context := fmt.Sprintf(
		"Conclude this children's story based on the user's last choice.\nStory So Far:\n%s\n\nUser chose: %q.\n\nWrite a short concluding paragraph (around 50-70 words). Maintain style: %s, character: %s, setting: %s, theme: %s.",
		b.storySoFar(s), userChoice, s.Style, s.Character, s.Setting, s.Theme,
	)
	return wrapConclusion(context)
}

// storySoFar собирает текст прошлых сегментов в порядке создания, отбрасывая
// самые старые сегменты, когда контекст не влезает в бюджет токенов.
// Последний сегмент включается всегда, даже если он один превышает бюджет.
func (b *Builder) storySoFar(s *domain.StorySession) string {
	if len(s.Segments) == 0 {
		return ""
	}

	// Идем от конца: набираем самые свежие сегменты, пока влезают
	kept := 0
	used := 0
	for i := len(s.Segments) - 1; i >= 0; i-- {
		cost := b.countTokens(s.Segments[i].Text)
		if kept > 0 && used+cost > b.tokenBudget {
			break
		}
		kept++
		used += cost
	}

	texts := make([]string, 0, kept)
	for _, seg := range s.Segments[len(s.Segments)-kept:] {
		texts = append(texts, seg.Text)
	}
	return strings.Join(texts, "\n\n")
}

// wrapContinuation оборачивает контекст инструкцией с JSON-схемой для
// нефинальных шагов: story, question и ровно 3 choices.
func wrapContinuation(context string) string {
	var sb strings.Builder
	sb.WriteString("You are a creative children's story writer. Write a short story continuation (around 50-70 words) based on the user's input.\n\n")
	sb.WriteString("User input/context:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nYour response MUST be a valid JSON object containing ONLY the following keys: \"story\", \"question\", and \"choices\".\n")
	sb.WriteString("\"story\": string (The story continuation text).\n")
	sb.WriteString("\"question\": string (A short question asking what the main character should do next?).\n")
	sb.WriteString("\"choices\": array of 3 strings (Three short action choices).\n\n")
	sb.WriteString("Example JSON output:\n")
	sb.WriteString("{\n  \"story\": \"Lily looked closer and saw tiny wings fluttering inside the jar!\",\n  \"question\": \"Should Lily open the jar?\",\n  \"choices\": [\"Open\", \"Wait\", \"Shake\"]\n}\n\n")
	sb.WriteString("Output ONLY the JSON object.")
	return sb.String()
}

// wrapConclusion оборачивает контекст финальной инструкцией: JSON только
// с ключом story, без вопроса и вариантов.
func wrapConclusion(context string) string {
	var sb strings.Builder
	sb.WriteString("You are a creative children's story writer concluding a story based on the user's input. Write a short concluding paragraph (around 50-70 words).\n\n")
	sb.WriteString("User input/previous context:\n")
	sb.WriteString(context)
	sb.WriteString("\n\nYour response MUST be a valid JSON object containing ONLY the key \"story\".\n")
	sb.WriteString("\"story\": string (The concluding story paragraph).\n\n")
	sb.WriteString("Example JSON output:\n")
	sb.WriteString("{\n  \"story\": \"And so, Lily and the fairy became the best of friends, sharing many more adventures.\"\n}\n\n")
	sb.WriteString("Output ONLY the JSON object.")
	return sb.String()
}
