// Command flush moves every buffered message into Postgres and exits. Run it
// while the server is stopped, before Redis maintenance or when switching
// BUFFER_BACKEND; the buffer has exactly one writer at a time.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chatbuffer/internal/app/message"
	"chatbuffer/internal/buffer"
	"chatbuffer/internal/config"
	"chatbuffer/internal/db"
	"chatbuffer/internal/metrics"
	"chatbuffer/internal/providers/redis"
	"chatbuffer/internal/utils"

	"go.uber.org/zap"
)

func main() {
	logger, err := utils.NewLogger(os.Getenv("ENV"))
	if err != nil {
		log.Fatalf("Failed to initialize zap logger: %v", err)
	}
	defer logger.Sync()

	utils.LoadEnv(logger)

	cfg := config.LoadConfig()

	logger.Info("Config loaded",
		zap.String("db_host", cfg.DBHost),
		zap.String("redis_url", cfg.RedisURL),
		zap.String("buffer_key", cfg.BufferKey),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbConn, err := db.Connect(&cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := db.Migrate(dbConn, logger); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	provider := redis.NewRedisProvider(ctx, cfg.RedisURL, logger)
	defer provider.Close()

	m := metrics.New(nil)
	repo := message.NewRepository(dbConn)
	compactor := message.NewCompactor(repo, message.CompactorConfig{
		Window:     cfg.CompactionWindow,
		Timeout:    cfg.CompactionTimeout,
		Retries:    cfg.CompactionRetries,
		MinBackoff: cfg.CompactionMinBackoff,
		MaxBackoff: cfg.CompactionMaxBackoff,
	}, logger, m)
	writer := message.NewWriter(buffer.NewRedisBuffer(provider, cfg.BufferKey), compactor, repo, cfg.MaxCacheSize, logger, m)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- writer.Run(runCtx) }()

	moved, err := writer.Drain(ctx)
	cancel()
	<-done

	if err != nil {
		logger.Fatal("Flush stopped", zap.Int("moved", moved), zap.Error(err))
	}
	logger.Info("Buffer flushed", zap.Int("moved", moved))
}
