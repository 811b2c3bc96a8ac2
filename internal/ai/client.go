package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storyteller-server/internal/config"
)

// ErrGenerationFailed - ошибка при генерации текста AI
var ErrGenerationFailed = errors.New("ошибка генерации текста AI")

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_ai_requests_total",
			Help: "Total number of requests to the text generation API.",
		},
		[]string{"model", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyteller_ai_request_duration_seconds",
			Help:    "Histogram of text generation request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)
	aiTotalTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storyteller_ai_total_tokens",
			Help:    "Histogram of total token counts (prompt + completion).",
			Buckets: prometheus.LinearBuckets(250, 250, 12),
		},
		[]string{"model"},
	)
)

// GenerateOptions - параметры одного запроса генерации.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
	// JSONMode просит провайдера вернуть синтаксически валидный JSON.
	// Содержимое все равно считается недоверенным и проходит через парсер.
	JSONMode bool
}

// TextGenerator интерфейс для взаимодействия с текстовым AI API.
// Один вызов - одна попытка: ретраев нет, вызывающая сторона подставляет
// fallback-контент при ошибке.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// --- OpenAI-compatible Client Implementation ---

// openAIGenerator реализует TextGenerator с использованием go-openai.
// Работает с любым OpenAI-совместимым API (Together, OpenRouter и т.д.).
type openAIGenerator struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func (g *openAIGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: пустой промпт", ErrGenerationFailed)
	}

	req := openaigo.ChatCompletionRequest{
		Model: g.model,
		Messages: []openaigo.ChatCompletionMessage{
			{
				Role:    openaigo.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONMode {
		req.ResponseFormat = &openaigo.ChatCompletionResponseFormat{
			Type: openaigo.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	startTime := time.Now()
	g.logger.Debug("Отправка запроса к AI",
		zap.String("model", g.model),
		zap.Int("promptBytes", len(prompt)),
		zap.Int("maxTokens", opts.MaxTokens),
	)

	resp, err := g.client.CreateChatCompletion(ctx, req)
	duration := time.Since(startTime)

	if err != nil {
		g.logger.Error("Ошибка от AI API", zap.Duration("duration", duration), zap.Error(err))
		aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		g.logger.Error("AI API вернул пустой ответ", zap.Duration("duration", duration))
		aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error_empty_response"}).Inc()
		return "", fmt.Errorf("%w: получен пустой ответ", ErrGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "success"}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": g.model}).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		aiTotalTokens.With(prometheus.Labels{"model": g.model}).Observe(float64(resp.Usage.TotalTokens))
	}

	generatedText := resp.Choices[0].Message.Content
	g.logger.Debug("Ответ от AI API получен",
		zap.Duration("duration", duration),
		zap.Int("responseChars", len(generatedText)),
		zap.Int("totalTokens", resp.Usage.TotalTokens),
	)
	return generatedText, nil
}

// --- Ollama Client Implementation ---

// ollamaGenerator реализует TextGenerator с использованием ollama/api
type ollamaGenerator struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func newOllamaGenerator(cfg *config.Config, logger *zap.Logger) (TextGenerator, error) {
	httpClient := &http.Client{
		Timeout: cfg.AITimeout,
	}

	// api.NewClient требует URL без суффикса /v1
	ollamaBaseURL := strings.TrimSuffix(cfg.AIBaseURL, "/v1")
	ollamaBaseURL = strings.TrimSuffix(ollamaBaseURL, "/")

	parsedURL, err := url.Parse(ollamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", ollamaBaseURL, err)
	}

	client := api.NewClient(parsedURL, httpClient)
	logger.Info("Ollama клиент создан",
		zap.String("baseURL", ollamaBaseURL),
		zap.String("model", cfg.AIModel),
		zap.Duration("timeout", cfg.AITimeout),
	)

	return &ollamaGenerator{
		client:  client,
		model:   cfg.AIModel,
		timeout: cfg.AITimeout,
		logger:  logger.Named("OllamaGenerator"),
	}, nil
}

func (g *ollamaGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: пустой промпт", ErrGenerationFailed)
	}

	req := &api.ChatRequest{
		Model: g.model,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Stream: func(b bool) *bool { return &b }(false),
		Options: map[string]interface{}{
			"temperature": opts.Temperature,
			"num_predict": opts.MaxTokens,
		},
	}
	if opts.JSONMode {
		req.Format = json.RawMessage(`"json"`)
	}

	requestCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	startTime := time.Now()
	var resp api.ChatResponse
	err := g.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r // Сохраняем последний (полный) ответ
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			g.logger.Error("Таймаут Ollama API", zap.Duration("timeout", g.timeout), zap.Error(err))
		} else {
			g.logger.Error("Ошибка от Ollama API", zap.Duration("duration", duration), zap.Error(err))
		}
		aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if resp.Message.Content == "" {
		g.logger.Error("Ollama API вернул пустой ответ", zap.Duration("duration", duration))
		aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "error_empty_response"}).Inc()
		return "", fmt.Errorf("%w: получен пустой ответ", ErrGenerationFailed)
	}

	aiRequestsTotal.With(prometheus.Labels{"model": g.model, "status": "success"}).Inc()
	aiRequestDuration.With(prometheus.Labels{"model": g.model}).Observe(duration.Seconds())
	if total := resp.PromptEvalCount + resp.EvalCount; total > 0 {
		aiTotalTokens.With(prometheus.Labels{"model": g.model}).Observe(float64(total))
	}

	return resp.Message.Content, nil
}

// --- Factory Function ---

// NewTextGenerator создает клиент текстового AI в зависимости от конфигурации
func NewTextGenerator(cfg *config.Config, logger *zap.Logger) (TextGenerator, error) {
	switch strings.ToLower(cfg.AIClientType) {
	case "openai":
		openaiConfig := openaigo.DefaultConfig(cfg.AIAPIKey)
		openaiConfig.BaseURL = cfg.AIBaseURL
		openaiConfig.HTTPClient = &http.Client{
			Timeout: cfg.AITimeout,
		}
		client := openaigo.NewClientWithConfig(openaiConfig)
		logger.Info("OpenAI клиент создан",
			zap.String("baseURL", cfg.AIBaseURL),
			zap.String("model", cfg.AIModel),
			zap.Duration("timeout", cfg.AITimeout),
		)
		return &openAIGenerator{
			client: client,
			model:  cfg.AIModel,
			logger: logger.Named("OpenAIGenerator"),
		}, nil
	case "ollama":
		return newOllamaGenerator(cfg, logger)
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.AIClientType)
	}
}
