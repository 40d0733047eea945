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
	appLogger "flashcard-server/internal/logger"
	"flashcard-server/internal/messaging"
	"flashcard-server/internal/outline"
	"flashcard-server/internal/repository"
	"flashcard-server/internal/storage"
	"flashcard-server/internal/tasks"
	"flashcard-server/internal/token"
	"flashcard-server/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
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
	zap.L().Info("Starting flashcard generation worker")

	// --- Metrics Server ---
	go startMetricsServer(cfg.MetricsAddr, logger)

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

	analyzeProcessor := worker.NewAnalyzeProcessor(coordinator, logger)
	generateProcessor := worker.NewGenerateProcessor(coordinator, logger)

	analyzeConsumer := messaging.NewConsumer(mqConn, logger,
		messaging.QueueAnalyzeTasks, cfg.AnalyzeQueuePrefetch, analyzeProcessor)
	generateConsumer := messaging.NewConsumer(mqConn, logger,
		messaging.QueueGenerateTasks, cfg.GenerateQueuePrefetch, generateProcessor)

	consumerErrors := make(chan error, 2)
	go func() {
		if err := analyzeConsumer.Start(); err != nil {
			consumerErrors <- fmt.Errorf("analyze consumer: %w", err)
		}
	}()
	go func() {
		if err := generateConsumer.Start(); err != nil {
			consumerErrors <- fmt.Errorf("generate consumer: %w", err)
		}
	}()

	zap.L().Info("Worker started, consuming pipeline queues",
		zap.String("analyzeQueue", messaging.QueueAnalyzeTasks),
		zap.String("generateQueue", messaging.QueueGenerateTasks))

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		zap.L().Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-consumerErrors:
		zap.L().Error("Consumer stopped with error", zap.Error(err))
	}

	zap.L().Info("Stopping consumers...")
	analyzeConsumer.Stop()
	generateConsumer.Stop()
	zap.L().Info("Worker exiting")
}

// startMetricsServer запускает HTTP-сервер для эндпоинта /metrics.
func startMetricsServer(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	})

	logger.Info("Starting metrics server", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server stopped", zap.Error(err))
	}
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
