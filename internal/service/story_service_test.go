package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyteller-server/internal/ai"
	"storyteller-server/internal/domain"
	"storyteller-server/internal/images"
	"storyteller-server/internal/mocks"
	"storyteller-server/internal/prompt"
	"storyteller-server/internal/storage"
)

const testImageURI = "data:image/jpeg;base64,QUJD"

func validStartParams() StartStoryParams {
	return StartStoryParams{
		Style:             "fairy tale",
		Character:         "a hedgehog",
		Setting:           "a forest",
		Theme:             "friendship",
		VisualStylePrompt: "watercolor",
	}
}

func segmentJSON(step int) string {
	return fmt.Sprintf(`{"story": "Part %d of the story.", "question": "What next?", "choices": ["Left", "Right", "Wait"]}`, step)
}

func newTestService(t *testing.T, textGen ai.TextGenerator, imageGen images.ImageGenerator) (StoryService, storage.SessionStore) {
	t.Helper()
	store := storage.NewMemorySessionStore(zap.NewNop())
	svc := NewStoryService(store, textGen, imageGen, prompt.NewBuilder(0), Options{
		SessionTTL:     2 * time.Hour,
		TargetSteps:    5,
		MaxTokens:      250,
		FinalMaxTokens: 150,
		Temperature:    0.7,
	}, zap.NewNop())
	return svc, store
}

func TestStartStory_Success(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	svc, store := newTestService(t, textGen, imageGen)

	textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), ai.GenerateOptions{
		MaxTokens:   250,
		Temperature: 0.7,
		JSONMode:    true,
	}).Return(segmentJSON(1), nil).Once()
	imageGen.On("Generate", mock.Anything, "Part 1 of the story.", "watercolor").
		Return(testImageURI, nil).Once()

	result, err := svc.StartStory(context.Background(), validStartParams())

	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "Part 1 of the story.", result.Story)
	assert.Equal(t, testImageURI, result.ImageURL)
	assert.Equal(t, "What next?", result.Question)
	assert.Len(t, result.Choices, 3)
	assert.False(t, result.Final)

	// Сессия сохранена с первым сегментом
	session, err := store.Get(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.StepCount)
	require.Len(t, session.Segments, 1)
	assert.Equal(t, "Part 1 of the story.", session.Segments[0].Text)

	textGen.AssertExpectations(t)
	imageGen.AssertExpectations(t)
}

func TestStartStory_MissingDescriptors(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	svc, _ := newTestService(t, textGen, imageGen)

	params := validStartParams()
	params.Theme = "  "
	_, err := svc.StartStory(context.Background(), params)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStartStory_SaveFailureAborts(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	store := mocks.NewMockSessionStore(t)
	svc := NewStoryService(store, textGen, imageGen, prompt.NewBuilder(0), Options{
		SessionTTL:  2 * time.Hour,
		TargetSteps: 5,
	}, zap.NewNop())

	store.On("Save", mock.Anything, mock.AnythingOfType("*domain.StorySession"), 2*time.Hour).
		Return(errors.New("redis down")).Once()

	_, err := svc.StartStory(context.Background(), validStartParams())

	// Клиент не должен получить sessionId, по которому нельзя продолжить
	require.Error(t, err)
	textGen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestAdvanceStory_Success(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	svc, store := newTestService(t, textGen, imageGen)

	textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(segmentJSON(1), nil).Once()
	textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(segmentJSON(2), nil).Once()
	imageGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), "watercolor").
		Return(testImageURI, nil).Twice()

	started, err := svc.StartStory(context.Background(), validStartParams())
	require.NoError(t, err)

	result, err := svc.AdvanceStory(context.Background(), started.SessionID, "Left")

	require.NoError(t, err)
	assert.Equal(t, "Part 2 of the story.", result.Story)
	assert.False(t, result.Final)

	session, err := store.Get(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, session.StepCount)
	assert.Len(t, session.Segments, 2)
}

func TestAdvanceStory_UnknownSession(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	svc, _ := newTestService(t, textGen, imageGen)

	_, err := svc.AdvanceStory(context.Background(), "no-such-session", "Left")

	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestAdvanceStory_EmptyInput(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	svc, _ := newTestService(t, textGen, imageGen)

	_, err := svc.AdvanceStory(context.Background(), "", "Left")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.AdvanceStory(context.Background(), "some-id", "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAdvanceStory_TextFailureUsesFallback(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	svc, store := newTestService(t, textGen, imageGen)

	textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(segmentJSON(1), nil).Once()
	textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return("", ai.ErrGenerationFailed).Once()
	imageGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), "watercolor").
		Return(testImageURI, nil).Twice()

	started, err := svc.StartStory(context.Background(), validStartParams())
	require.NoError(t, err)

	result, err := svc.AdvanceStory(context.Background(), started.SessionID, "Left")

	// Сбой AI не прерывает историю: подставляется fallback-сегмент
	require.NoError(t, err)
	assert.Equal(t, "Oops! The connection fizzled.", result.Story)
	assert.Equal(t, "Try again?", result.Question)
	assert.Equal(t, []string{"Yes", "No", "Maybe"}, result.Choices)

	session, err := store.Get(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, session.StepCount)
}

func TestAdvanceStory_ImageFailureUsesFallback(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	svc, _ := newTestService(t, textGen, imageGen)

	textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(segmentJSON(1), nil).Once()
	imageGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), "watercolor").
		Return("", images.ErrImageGeneration).Once()

	result, err := svc.StartStory(context.Background(), validStartParams())

	require.NoError(t, err)
	assert.Equal(t, images.FallbackImageURI, result.ImageURL)
}

func TestAdvanceStory_MalformedResponseUsesFallback(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	svc, _ := newTestService(t, textGen, imageGen)

	textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return("this is not json", nil).Once()
	imageGen.On("Generate", mock.Anything, "The story reached a confusing point!", "watercolor").
		Return(testImageURI, nil).Once()

	result, err := svc.StartStory(context.Background(), validStartParams())

	require.NoError(t, err)
	assert.Equal(t, "The story reached a confusing point!", result.Story)
	assert.Equal(t, []string{"Yes", "No", "Maybe"}, result.Choices)
}

func TestAdvanceStory_FullStoryToConclusion(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	svc, store := newTestService(t, textGen, imageGen)

	for step := 1; step <= 4; step++ {
		textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), ai.GenerateOptions{
			MaxTokens:   250,
			Temperature: 0.7,
			JSONMode:    true,
		}).Return(segmentJSON(step), nil).Once()
	}
	// Финальный шаг идет с урезанным лимитом токенов и без вопроса
	textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), ai.GenerateOptions{
		MaxTokens:   150,
		Temperature: 0.7,
		JSONMode:    true,
	}).Return(`{"story": "And they lived happily ever after."}`, nil).Once()
	imageGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), "watercolor").
		Return(testImageURI, nil).Times(5)

	started, err := svc.StartStory(context.Background(), validStartParams())
	require.NoError(t, err)

	var result *domain.TurnResult
	for step := 2; step <= 5; step++ {
		result, err = svc.AdvanceStory(context.Background(), started.SessionID, "Left")
		require.NoError(t, err)
	}

	assert.True(t, result.Final)
	assert.Equal(t, "And they lived happily ever after.", result.Story)
	assert.Empty(t, result.Question)
	assert.Empty(t, result.Choices)

	// Шестой ход отклоняется: история завершена
	_, err = svc.AdvanceStory(context.Background(), started.SessionID, "More!")
	assert.ErrorIs(t, err, domain.ErrStoryFinished)

	session, err := store.Get(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 5, session.StepCount)
	assert.Len(t, session.Segments, 5)
	textGen.AssertExpectations(t)
}

func TestAdvanceStory_VersionConflict(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	store := mocks.NewMockSessionStore(t)
	svc := NewStoryService(store, textGen, imageGen, prompt.NewBuilder(0), Options{
		SessionTTL:  2 * time.Hour,
		TargetSteps: 5,
		MaxTokens:   250,
	}, zap.NewNop())

	session := &domain.StorySession{
		ID:                "s1",
		Style:             "fairy tale",
		Character:         "a hedgehog",
		Setting:           "a forest",
		Theme:             "friendship",
		VisualStylePrompt: "watercolor",
		StepCount:         1,
		Segments:          []domain.StorySegment{{Text: "Part 1.", ImageURL: testImageURI}},
		Version:           2,
	}
	store.On("Get", mock.Anything, "s1").Return(session, nil).Once()
	textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(segmentJSON(2), nil).Once()
	imageGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), "watercolor").
		Return(testImageURI, nil).Once()
	store.On("Update", mock.Anything, mock.AnythingOfType("*domain.StorySession"), 2*time.Hour).
		Return(storage.ErrVersionConflict).Once()

	_, err := svc.AdvanceStory(context.Background(), "s1", "Left")

	// Проигравший гонку ход отклоняется, а не затирает выигравший
	assert.ErrorIs(t, err, domain.ErrConcurrentTurn)
	store.AssertExpectations(t)
}

func TestAdvanceStory_UpdateFailureStillReturnsResult(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	store := mocks.NewMockSessionStore(t)
	svc := NewStoryService(store, textGen, imageGen, prompt.NewBuilder(0), Options{
		SessionTTL:  2 * time.Hour,
		TargetSteps: 5,
		MaxTokens:   250,
	}, zap.NewNop())

	session := &domain.StorySession{
		ID:                "s1",
		Style:             "fairy tale",
		Character:         "a hedgehog",
		Setting:           "a forest",
		Theme:             "friendship",
		VisualStylePrompt: "watercolor",
		StepCount:         1,
		Segments:          []domain.StorySegment{{Text: "Part 1.", ImageURL: testImageURI}},
		Version:           2,
	}
	store.On("Get", mock.Anything, "s1").Return(session, nil).Once()
	textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(segmentJSON(2), nil).Once()
	imageGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), "watercolor").
		Return(testImageURI, nil).Once()
	store.On("Update", mock.Anything, mock.AnythingOfType("*domain.StorySession"), 2*time.Hour).
		Return(errors.New("redis down")).Once()

	// Сегмент уже сгенерирован, результат отдается клиенту несмотря на
	// ошибку записи
	result, err := svc.AdvanceStory(context.Background(), "s1", "Left")

	require.NoError(t, err)
	assert.Equal(t, "Part 2 of the story.", result.Story)
}

func TestGetStory(t *testing.T) {
	textGen := mocks.NewMockTextGenerator(t)
	imageGen := mocks.NewMockImageGenerator(t)
	svc, _ := newTestService(t, textGen, imageGen)

	textGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(segmentJSON(1), nil).Once()
	imageGen.On("Generate", mock.Anything, mock.AnythingOfType("string"), "watercolor").
		Return(testImageURI, nil).Once()

	started, err := svc.StartStory(context.Background(), validStartParams())
	require.NoError(t, err)

	session, err := svc.GetStory(context.Background(), started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.StepCount)

	_, err = svc.GetStory(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = svc.GetStory(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
