package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyteller-server/internal/domain"
	"storyteller-server/internal/service"
)

// StoryHandler обрабатывает HTTP запросы к API историй
type StoryHandler struct {
	service     service.StoryService
	targetSteps int
	logger      *zap.Logger
	// Имена моделей для /health, чисто информационные.
	textModel  string
	imageModel string
}

// NewStoryHandler создает новый экземпляр StoryHandler
func NewStoryHandler(svc service.StoryService, targetSteps int, textModel, imageModel string, logger *zap.Logger) *StoryHandler {
	if targetSteps <= 0 {
		targetSteps = domain.DefaultTargetSteps
	}
	return &StoryHandler{
		service:     svc,
		targetSteps: targetSteps,
		logger:      logger.Named("StoryHandler"),
		textModel:   textModel,
		imageModel:  imageModel,
	}
}

// RegisterRoutes регистрирует маршруты API на роутере
func (h *StoryHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/start-story", h.startStory)
	router.POST("/generate-next", h.generateNext)
	router.GET("/story/:id", h.getStory)
	router.GET("/health", h.health)
}

// --- DTO ---

type startStoryRequest struct {
	Style             string `json:"style" binding:"required"`
	Character         string `json:"character" binding:"required"`
	Setting           string `json:"setting" binding:"required"`
	Theme             string `json:"theme" binding:"required"`
	VisualStylePrompt string `json:"visualStylePrompt" binding:"required"`
}

type generateNextRequest struct {
	SessionID  string `json:"sessionId" binding:"required"`
	UserChoice string `json:"userChoice" binding:"required"`
}

type turnResponse struct {
	Success   bool     `json:"success"`
	SessionID string   `json:"sessionId"`
	Story     string   `json:"story"`
	ImageURL  string   `json:"imageUrl"`
	Question  string   `json:"question,omitempty"`
	Choices   []string `json:"choices,omitempty"`
	Final     bool     `json:"final"`
}

type storyStateResponse struct {
	Success   bool                  `json:"success"`
	SessionID string                `json:"sessionId"`
	StepCount int                   `json:"stepCount"`
	Final     bool                  `json:"final"`
	Segments  []domain.StorySegment `json:"segments"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func newTurnResponse(result *domain.TurnResult) turnResponse {
	return turnResponse{
		Success:   true,
		SessionID: result.SessionID,
		Story:     result.Story,
		ImageURL:  result.ImageURL,
		Question:  result.Question,
		Choices:   result.Choices,
		Final:     result.Final,
	}
}

// --- Handlers ---

func (h *StoryHandler) startStory(c *gin.Context) {
	var req startStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Некорректный запрос start-story", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorResponse{
			Error: "Missing required fields: style, character, setting, theme, visualStylePrompt",
		})
		return
	}

	result, err := h.service.StartStory(c.Request.Context(), service.StartStoryParams{
		Style:             req.Style,
		Character:         req.Character,
		Setting:           req.Setting,
		Theme:             req.Theme,
		VisualStylePrompt: req.VisualStylePrompt,
	})
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newTurnResponse(result))
}

func (h *StoryHandler) generateNext(c *gin.Context) {
	var req generateNextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Некорректный запрос generate-next", zap.Error(err))
		c.JSON(http.StatusBadRequest, errorResponse{
			Error: "Missing sessionId or userChoice",
		})
		return
	}

	result, err := h.service.AdvanceStory(c.Request.Context(), req.SessionID, req.UserChoice)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newTurnResponse(result))
}

func (h *StoryHandler) getStory(c *gin.Context) {
	sessionID := c.Param("id")

	session, err := h.service.GetStory(c.Request.Context(), sessionID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, storyStateResponse{
		Success:   true,
		SessionID: session.ID,
		StepCount: session.StepCount,
		Final:     session.IsTerminal(h.targetSteps),
		Segments:  session.Segments,
	})
}

func (h *StoryHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"textGenerator":  h.textModel,
		"imageGenerator": h.imageModel,
	})
}

// handleServiceError преобразует ошибки сервисного слоя в HTTP статусы.
// Детали внутренних ошибок клиенту не отдаются.
func (h *StoryHandler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request payload"})
	case errors.Is(err, domain.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: "Story session not found or has expired"})
	case errors.Is(err, domain.ErrStoryFinished):
		c.JSON(http.StatusConflict, errorResponse{Error: "Story has already concluded"})
	case errors.Is(err, domain.ErrConcurrentTurn):
		c.JSON(http.StatusConflict, errorResponse{Error: "Another turn for this story is being processed"})
	default:
		h.logger.Error("Внутренняя ошибка сервиса", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}
