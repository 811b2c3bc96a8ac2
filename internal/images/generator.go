package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// FallbackImageURI - прозрачный пиксель 1x1, подставляется когда генерация
// изображения недоступна или завершилась ошибкой.
const FallbackImageURI = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

// ErrImageGeneration - ошибка при генерации изображения
var ErrImageGeneration = errors.New("ошибка генерации изображения")

var imageRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storyteller_image_requests_total",
		Help: "Total number of requests to the image generation API.",
	},
	[]string{"model", "status"},
)

// BuildImagePrompt формирует промпт иллюстрации из текста сегмента и
// визуального стиля сессии.
func BuildImagePrompt(text, style string) string {
	return fmt.Sprintf("Children's storybook illustration, %s: %s", style, text)
}

// ImageGenerator интерфейс для генерации иллюстрации к сегменту истории.
// Возвращаемое значение - data URI, пригодный для <img src=...>.
type ImageGenerator interface {
	Generate(ctx context.Context, text, style string) (string, error)
}

// Client - HTTP-клиент для OpenAI-совместимого эндпоинта /images/generations.
// go-openai здесь не используется: его ImageRequest не умеет передавать
// поле steps, которое требуют diffusion-модели Together.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	steps      int
	httpClient *http.Client
	logger     *zap.Logger
}

var _ ImageGenerator = (*Client)(nil)

// NewClient создает клиент API генерации изображений
func NewClient(baseURL, apiKey, model string, steps int, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	parsed, err := url.ParseRequestURI(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("некорректный base URL image API '%s': %w", baseURL, err)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		steps:   steps,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("ImageClient"),
	}, nil
}

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Steps          int    `json:"steps"`
	ResponseFormat string `json:"response_format"`
}

type generationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Generate запрашивает иллюстрацию для текста сегмента. Пустой текст не
// тратит запрос к API: сразу возвращается fallback-пиксель.
func (c *Client) Generate(ctx context.Context, text, style string) (string, error) {
	if strings.TrimSpace(text) == "" {
		imageRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "skipped"}).Inc()
		return FallbackImageURI, nil
	}

	body, err := json.Marshal(generationRequest{
		Model:          c.model,
		Prompt:         BuildImagePrompt(text, style),
		N:              1,
		Steps:          c.steps,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return "", fmt.Errorf("%w: маршалинг запроса: %v", ErrImageGeneration, err)
	}

	endpoint := c.baseURL + "/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: создание запроса: %v", ErrImageGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Ошибка запроса к image API", zap.String("endpoint", endpoint), zap.Error(err))
		imageRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: %v", ErrImageGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Error("Image API вернул ошибку",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody),
		)
		imageRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: статус %d", ErrImageGeneration, resp.StatusCode)
	}

	var decoded generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		imageRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error"}).Inc()
		return "", fmt.Errorf("%w: декодирование ответа: %v", ErrImageGeneration, err)
	}
	if len(decoded.Data) == 0 || decoded.Data[0].B64JSON == "" {
		imageRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error_empty_response"}).Inc()
		return "", fmt.Errorf("%w: пустой ответ image API", ErrImageGeneration)
	}

	imageRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "success"}).Inc()
	c.logger.Debug("Иллюстрация сгенерирована",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("b64Bytes", len(decoded.Data[0].B64JSON)),
	)
	return "data:image/jpeg;base64," + decoded.Data[0].B64JSON, nil
}
