package domain

import "time"

// DefaultTargetSteps - число шагов истории по умолчанию. После пятого шага
// сессия становится терминальной и не принимает новые ходы.
const DefaultTargetSteps = 5

// StorySession представляет одну историю в процессе генерации.
// Стилевые поля задаются один раз при создании и не меняются.
type StorySession struct {
	ID                string         `json:"id"`
	Style             string         `json:"style"`
	Character         string         `json:"character"`
	Setting           string         `json:"setting"`
	Theme             string         `json:"theme"`
	VisualStylePrompt string         `json:"visualStylePrompt"`
	StepCount         int            `json:"stepCount"`
	Segments          []StorySegment `json:"segments"`
	// Version увеличивается на 1 при каждой успешной записи в хранилище.
	// Используется для optimistic concurrency при цикле read-modify-write.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StorySegment - один сгенерированный фрагмент истории с иллюстрацией.
// Text и ImageURL никогда не пустые после коммита сегмента (в худшем
// случае это fallback-значения).
type StorySegment struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
}

// IsTerminal сообщает, достигла ли сессия целевого числа шагов.
func (s *StorySession) IsTerminal(targetSteps int) bool {
	return s.StepCount >= targetSteps
}

// TurnResult - результат одного хода. Question и Choices пустые на
// финальном шаге.
type TurnResult struct {
	SessionID string
	Story     string
	ImageURL  string
	Question  string
	Choices   []string
	Final     bool
}
