package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flashcard-server/internal/ai"
	"flashcard-server/internal/chunker"
	"flashcard-server/internal/config"
	"flashcard-server/internal/generation"
	"flashcard-server/internal/handler"
	appLogger "flashcard-server/internal/logger"
	"flashcard-server/internal/messaging"
	"flashcard-server/internal/outline"
	"flashcard-server/internal/repository"
	"flashcard-server/internal/storage"
	"flashcard-server/internal/tasks"
	"flashcard-server/internal/token"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

func main() {
	// --- Configuration ---
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	logger, err := appLogger.New(appLogger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zap.ReplaceGlobals(logger)
	zap.L().Info("Logger initialized successfully", zap.String("logLevel", cfg.LogLevel))

	// --- External Connections ---
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := repository.NewPgxPool(ctx, cfg, logger)
	if err != nil {
		zap.L().Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pgPool.Close()
	zap.L().Info("Connected to PostgreSQL")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zap.L().Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zap.L().Info("Connected to Redis")

	mqConn, err := connectRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer mqConn.Close()
	zap.L().Info("Connected to RabbitMQ")

	sourceStore, err := storage.NewMinioSourceStore(ctx, cfg, logger)
	if err != nil {
		zap.L().Fatal("Failed to initialize MinIO source store", zap.Error(err))
	}
	zap.L().Info("Connected to MinIO")

	// --- Dependency Injection ---
	taskRepo := repository.NewPgTaskRepository(pgPool, logger)
	deckRepo := repository.NewPgDeckRepository(pgPool, logger)
	creditRepo := repository.NewPgCreditRepository(pgPool, logger)
	progressCounter := repository.NewRedisProgressCounter(redisClient, logger)

	aiClient, err := ai.NewClient(cfg)
	if err != nil {
		zap.L().Fatal("Failed to create AI client", zap.Error(err))
	}

	tokenCounter, err := token.NewCounter(cfg.AIModel)
	if err != nil {
		zap.L().Fatal("Failed to create token counter", zap.Error(err))
	}

	resolver := storage.NewSourceResolver(sourceStore, 30*time.Second, logger)
	outlineBuilder := outline.NewBuilder(aiClient, tokenCounter, outline.Config{
		ContextTokens:     cfg.AIContextTokens,
		OutputReservation: cfg.AIOutputReservation,
		MaxChapters:       cfg.MaxChapters,
		CharsPerPage:      cfg.CharsPerPage,
	}, logger)
	engine := generation.NewEngine(aiClient, chunker.New(tokenCounter), generation.Config{
		ChunkMaxTokens:   cfg.ChunkMaxTokens,
		ChunkOverlap:     cfg.ChunkOverlap,
		ChunkConcurrency: cfg.ChunkConcurrency,
		AIMaxAttempts:    cfg.AIMaxAttempts,
		AIBaseRetryDelay: cfg.AIBaseRetryDelay,
		AITimeout:        cfg.AITimeout,
	}, logger)

	coordinator := tasks.NewCoordinator(taskRepo, deckRepo, creditRepo, progressCounter,
		resolver, outlineBuilder, engine, logger)

	publisher, err := messaging.NewRabbitMQPublisher(mqConn)
	if err != nil {
		zap.L().Fatal("Failed to create RabbitMQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	taskHandler := handler.NewTaskHandler(taskRepo, deckRepo, creditRepo,
		publisher, sourceStore, coordinator, logger)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(handler.ZapLoggingMiddleware(logger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	taskHandler.RegisterRoutes(router)

	// Prometheus middleware применяем после регистрации роутов.
	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	zap.L().Info("Server exiting")
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 50
	retryDelay := 5 * time.Second

	logger.Info("Attempting to connect to RabbitMQ",
		zap.Int("max_retries", maxRetries),
		zap.Duration("retry_delay", retryDelay),
	)
	for i := 0; i < maxRetries; i++ {
		attempt := i + 1
		conn, err = amqp.Dial(url)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ", zap.Int("attempt", attempt))
			go func() {
				notifyClose := make(chan *amqp.Error)
				conn.NotifyClose(notifyClose)
				if closeErr := <-notifyClose; closeErr != nil {
					logger.Error("RabbitMQ connection closed unexpectedly", zap.Error(closeErr))
				} else {
					logger.Info("RabbitMQ connection closed gracefully")
				}
			}()
			return conn, nil
		}
		logger.Warn("RabbitMQ connection failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}
