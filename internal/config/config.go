package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию сервера историй
type Config struct {
	// Настройки HTTP сервера
	ServerPort         string        `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout        time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout       time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"180s"` // ход = два внешних вызова
	IdleTimeout        time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
	CORSAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Логирование
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	// Настройки сессий
	// Пустой REDIS_ADDR переключает хранилище на in-memory реализацию.
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"2h"`
	TargetSteps   int           `envconfig:"STORY_TARGET_STEPS" default:"5"`

	// Настройки текстового AI (OpenAI-совместимый API, по умолчанию Together)
	AIClientType     string        `envconfig:"AI_CLIENT_TYPE" default:"openai"`
	AIBaseURL        string        `envconfig:"AI_BASE_URL" default:"https://api.together.xyz/v1"`
	AIModel          string        `envconfig:"AI_MODEL" default:"meta-llama/Llama-3.3-70B-Instruct-Turbo-Free"`
	AITimeout        time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
	AIMaxTokens      int           `envconfig:"AI_MAX_TOKENS" default:"250"`
	AIFinalMaxTokens int           `envconfig:"AI_FINAL_MAX_TOKENS" default:"150"`
	AITemperature    float64       `envconfig:"AI_TEMPERATURE" default:"0.7"`
	AIAPIKey         string        `envconfig:"AI_API_KEY" default:""`

	// Бюджет токенов на контекст промпта (прошлые сегменты истории)
	PromptTokenBudget int `envconfig:"PROMPT_TOKEN_BUDGET" default:"2048"`

	// Настройки генерации изображений
	ImageBaseURL string        `envconfig:"IMAGE_BASE_URL" default:"https://api.together.xyz/v1"`
	ImageModel   string        `envconfig:"IMAGE_MODEL" default:"black-forest-labs/FLUX.1-schnell-Free"`
	ImageSteps   int           `envconfig:"IMAGE_STEPS" default:"4"`
	ImageTimeout time.Duration `envconfig:"IMAGE_TIMEOUT" default:"90s"`
}

// LoadConfig загружает конфигурацию из переменных окружения
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// Для ollama ключ не нужен, для остальных клиентов обязателен
	if strings.ToLower(cfg.AIClientType) != "ollama" && cfg.AIAPIKey == "" {
		return nil, fmt.Errorf("AI_API_KEY not set")
	}

	if cfg.TargetSteps < 2 {
		return nil, fmt.Errorf("STORY_TARGET_STEPS must be at least 2, got %d", cfg.TargetSteps)
	}

	return &cfg, nil
}
