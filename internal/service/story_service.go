package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyteller-server/internal/ai"
	"storyteller-server/internal/domain"
	"storyteller-server/internal/images"
	"storyteller-server/internal/prompt"
	"storyteller-server/internal/storage"
)

// StartStoryParams - дескрипторы новой истории, задаются один раз.
type StartStoryParams struct {
	Style             string
	Character         string
	Setting           string
	Theme             string
	VisualStylePrompt string
}

// StoryService - оркестратор ходов истории: хранилище сессий, текстовый AI
// и генерация иллюстраций.
type StoryService interface {
	StartStory(ctx context.Context, params StartStoryParams) (*domain.TurnResult, error)
	AdvanceStory(ctx context.Context, sessionID, userChoice string) (*domain.TurnResult, error)
	GetStory(ctx context.Context, sessionID string) (*domain.StorySession, error)
}

// Options - параметры генерации, снятые с конфигурации при старте.
type Options struct {
	SessionTTL     time.Duration
	TargetSteps    int
	MaxTokens      int
	FinalMaxTokens int
	Temperature    float64
}

type storyService struct {
	store    storage.SessionStore
	textGen  ai.TextGenerator
	imageGen images.ImageGenerator
	builder  *prompt.Builder
	opts     Options
	logger   *zap.Logger
}

var _ StoryService = (*storyService)(nil)

// NewStoryService создает сервис историй
func NewStoryService(
	store storage.SessionStore,
	textGen ai.TextGenerator,
	imageGen images.ImageGenerator,
	builder *prompt.Builder,
	opts Options,
	logger *zap.Logger,
) StoryService {
	if opts.TargetSteps <= 0 {
		opts.TargetSteps = domain.DefaultTargetSteps
	}
	return &storyService{
		store:    store,
		textGen:  textGen,
		imageGen: imageGen,
		builder:  builder,
		opts:     opts,
		logger:   logger.Named("StoryService"),
	}
}

// StartStory создает сессию и генерирует первый сегмент истории.
// Если сессию не удалось сохранить, ход не выполняется: клиент не должен
// получить sessionId, по которому нельзя продолжить.
func (s *storyService) StartStory(ctx context.Context, params StartStoryParams) (*domain.TurnResult, error) {
	if err := validateStartParams(params); err != nil {
		return nil, err
	}

	session := &domain.StorySession{
		ID:                uuid.NewString(),
		Style:             strings.TrimSpace(params.Style),
		Character:         strings.TrimSpace(params.Character),
		Setting:           strings.TrimSpace(params.Setting),
		Theme:             strings.TrimSpace(params.Theme),
		VisualStylePrompt: strings.TrimSpace(params.VisualStylePrompt),
		UpdatedAt:         time.Now().UTC(),
	}

	if err := s.store.Save(ctx, session, s.opts.SessionTTL); err != nil {
		s.logger.Error("Не удалось сохранить новую сессию", zap.Error(err))
		return nil, fmt.Errorf("создание сессии: %w", err)
	}
	s.logger.Info("Сессия истории создана",
		zap.String("sessionID", session.ID),
		zap.String("style", session.Style),
	)

	return s.runTurn(ctx, session, "")
}

// AdvanceStory выполняет следующий ход существующей истории.
func (s *storyService) AdvanceStory(ctx context.Context, sessionID, userChoice string) (*domain.TurnResult, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(userChoice) == "" {
		return nil, domain.ErrInvalidInput
	}

	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, err
		}
		s.logger.Error("Ошибка чтения сессии", zap.String("sessionID", sessionID), zap.Error(err))
		return nil, fmt.Errorf("чтение сессии %s: %w", sessionID, err)
	}

	if session.IsTerminal(s.opts.TargetSteps) {
		s.logger.Info("Ход после финала отклонен",
			zap.String("sessionID", sessionID),
			zap.Int("stepCount", session.StepCount),
		)
		return nil, domain.ErrStoryFinished
	}

	return s.runTurn(ctx, session, userChoice)
}

// GetStory возвращает текущее состояние сессии без выполнения хода.
func (s *storyService) GetStory(ctx context.Context, sessionID string) (*domain.StorySession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.store.Get(ctx, sessionID)
}

// runTurn - общий конвейер хода: промпт -> текст -> парсинг -> иллюстрация
// -> коммит сегмента. Сбои внешних API не прерывают ход, вместо них в
// историю попадает fallback-контент; конфликт версий прерывает.
func (s *storyService) runTurn(ctx context.Context, session *domain.StorySession, userChoice string) (*domain.TurnResult, error) {
	stepCount := session.StepCount + 1
	final := prompt.IsFinal(stepCount, s.opts.TargetSteps)
	turnLogger := s.logger.With(
		zap.String("sessionID", session.ID),
		zap.Int("step", stepCount),
		zap.Bool("final", final),
	)

	storyPrompt := s.builder.Build(session, stepCount, s.opts.TargetSteps, userChoice)

	maxTokens := s.opts.MaxTokens
	if final {
		maxTokens = s.opts.FinalMaxTokens
	}

	var payload ai.SegmentPayload
	raw, err := s.textGen.Generate(ctx, storyPrompt, ai.GenerateOptions{
		MaxTokens:   maxTokens,
		Temperature: s.opts.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		turnLogger.Warn("Текстовый AI недоступен, подставлен fallback", zap.Error(err))
		payload = ai.CallFailureFallback(final)
		turnOutcomes.WithLabelValues(outcomeTextFallback).Inc()
	} else {
		payload = ai.ParseSegmentResponse(raw, final)
	}

	imageURL, err := s.imageGen.Generate(ctx, payload.Story, session.VisualStylePrompt)
	if err != nil || imageURL == "" {
		if err != nil {
			turnLogger.Warn("Генерация иллюстрации не удалась, подставлен fallback", zap.Error(err))
		}
		imageURL = images.FallbackImageURI
		turnOutcomes.WithLabelValues(outcomeImageFallback).Inc()
	}

	session.StepCount = stepCount
	session.Segments = append(session.Segments, domain.StorySegment{
		Text:     payload.Story,
		ImageURL: imageURL,
	})
	session.UpdatedAt = time.Now().UTC()

	// Каждый успешный ход продлевает TTL сессии на полный интервал.
	if err := s.store.Update(ctx, session, s.opts.SessionTTL); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			turnLogger.Warn("Конфликт версий сессии, ход отклонен")
			turnOutcomes.WithLabelValues(outcomeConflict).Inc()
			return nil, domain.ErrConcurrentTurn
		}
		// Сегмент уже сгенерирован, деньги на вызовы AI потрачены.
		// Возвращаем результат клиенту, даже если запись не прошла.
		turnLogger.Error("Не удалось сохранить сессию после хода", zap.Error(err))
	}

	turnOutcomes.WithLabelValues(outcomeSuccess).Inc()
	turnLogger.Info("Ход завершен", zap.Int("storyChars", len(payload.Story)))

	return &domain.TurnResult{
		SessionID: session.ID,
		Story:     payload.Story,
		ImageURL:  imageURL,
		Question:  payload.Question,
		Choices:   payload.Choices,
		Final:     final,
	}, nil
}

func validateStartParams(p StartStoryParams) error {
	if strings.TrimSpace(p.Style) == "" ||
		strings.TrimSpace(p.Character) == "" ||
		strings.TrimSpace(p.Setting) == "" ||
		strings.TrimSpace(p.Theme) == "" ||
		strings.TrimSpace(p.VisualStylePrompt) == "" {
		return domain.ErrInvalidInput
	}
	return nil
}
