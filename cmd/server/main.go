package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"storyteller-server/internal/ai"
	"storyteller-server/internal/config"
	"storyteller-server/internal/handler"
	"storyteller-server/internal/images"
	appLogger "storyteller-server/internal/logger"
	"storyteller-server/internal/middleware"
	"storyteller-server/internal/prompt"
	"storyteller-server/internal/service"
	"storyteller-server/internal/storage"
)

func main() {
	// Используем стандартный log для самых ранних ошибок, до инициализации zap
	log.Println("Запуск Storyteller Server...")

	if err := godotenv.Load(); err != nil {
		log.Println("Файл .env не найден, используются переменные окружения")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger, err := appLogger.New(appLogger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
	})
	if err != nil {
		log.Fatalf("Не удалось инициализировать логгер: %v", err)
	}
	defer logger.Sync()
	logger.Info("Логгер инициализирован", zap.String("logLevel", cfg.LogLevel))

	// --- Хранилище сессий ---
	var store storage.SessionStore
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			logger.Fatal("Не удалось подключиться к Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
		defer redisClient.Close()
		store = storage.NewRedisSessionStore(redisClient, logger)
		logger.Info("Подключено к Redis", zap.String("addr", cfg.RedisAddr))
	} else {
		// Сессии переживут только жизнь процесса. Для одного инстанса в
		// разработке этого достаточно.
		store = storage.NewMemorySessionStore(logger)
		logger.Warn("REDIS_ADDR не задан, используется in-memory хранилище сессий")
	}

	// --- Клиенты AI ---
	textGen, err := ai.NewTextGenerator(cfg, logger)
	if err != nil {
		logger.Fatal("Не удалось создать текстовый AI клиент", zap.Error(err))
	}
	imageGen, err := images.NewClient(cfg.ImageBaseURL, cfg.AIAPIKey, cfg.ImageModel, cfg.ImageSteps, cfg.ImageTimeout, logger)
	if err != nil {
		logger.Fatal("Не удалось создать клиент генерации изображений", zap.Error(err))
	}

	// --- Сервис и обработчики ---
	builder := prompt.NewBuilder(cfg.PromptTokenBudget)
	storyService := service.NewStoryService(store, textGen, imageGen, builder, service.Options{
		SessionTTL:     cfg.SessionTTL,
		TargetSteps:    cfg.TargetSteps,
		MaxTokens:      cfg.AIMaxTokens,
		FinalMaxTokens: cfg.AIFinalMaxTokens,
		Temperature:    cfg.AITemperature,
	}, logger)
	h := handler.NewStoryHandler(storyService, cfg.TargetSteps, cfg.AIModel, cfg.ImageModel, logger)

	// --- Настройка Gin ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.GinZapLogger(logger))

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsConfig))

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	h.RegisterRoutes(router)

	// --- Запуск HTTP сервера ---
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("Сервер запускается", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Ошибка запуска HTTP сервера", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Получен сигнал завершения, начинаем остановку сервера...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Ошибка при остановке сервера", zap.Error(err))
	}

	logger.Info("Сервер успешно остановлен")
}
