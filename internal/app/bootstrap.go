package app

import (
	"context"
	"fmt"

	"chatbuffer/internal/app/health"
	"chatbuffer/internal/app/message"
	"chatbuffer/internal/buffer"
	"chatbuffer/internal/config"
	"chatbuffer/internal/db"
	"chatbuffer/internal/gateways/websocket"
	"chatbuffer/internal/metrics"
	"chatbuffer/internal/providers/redis"
	"chatbuffer/internal/router"
	"chatbuffer/internal/utils"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Application struct {
	Router   *router.Router
	DB       *gorm.DB
	Redis    *redis.RedisProvider
	Writer   *message.Writer
	EventBus *utils.EventBus
	Hub      *websocket.Hub
	// Volatile is true when buffered messages do not survive a restart.
	Volatile bool
}

func Bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	dbConn, err := db.Connect(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(dbConn, logger); err != nil {
		return nil, err
	}

	var (
		redisProvider *redis.RedisProvider
		buf           buffer.Buffer
	)
	switch cfg.BufferBackend {
	case config.BufferBackendMemory:
		buf = buffer.NewMemoryBuffer()
		logger.Warn("Using in-memory buffer, unflushed messages are lost on crash")
	default:
		redisProvider = redis.NewRedisProvider(ctx, cfg.RedisURL, logger)
		buf = buffer.NewRedisBuffer(redisProvider, cfg.BufferKey)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	eventBus := utils.NewEventBus()

	messageRepo := message.NewRepository(dbConn)
	compactor := message.NewCompactor(messageRepo, message.CompactorConfig{
		Window:     cfg.CompactionWindow,
		Timeout:    cfg.CompactionTimeout,
		Retries:    cfg.CompactionRetries,
		MinBackoff: cfg.CompactionMinBackoff,
		MaxBackoff: cfg.CompactionMaxBackoff,
	}, logger, m)
	writer := message.NewWriter(buf, compactor, messageRepo, cfg.MaxCacheSize, logger, m)
	messageService := message.NewService(messageRepo, buf, writer, eventBus, logger, m, message.Options{
		MaxCacheSize:     cfg.MaxCacheSize,
		CompactionWindow: cfg.CompactionWindow,
		RateLimit:        cfg.MessageRateLimit,
		RateBurst:        cfg.MessageRateBurst,
		MaxMessageLength: cfg.MaxMessageLength,
	})

	hub := websocket.NewHub(messageService, eventBus, logger, m)

	checker := &utils.HealthChecker{DB: dbConn}
	if redisProvider != nil {
		checker.Redis = redisProvider.Client
	}
	healthHandler := health.NewHandler(health.NewService(checker))
	messageHandler := message.NewHandler(messageService, logger, m)

	r := router.NewRouter(logger, cfg.AllowedOrigins())

	r.RegisterHealthRoutes(healthHandler)
	r.RegisterMessageRoutes(messageHandler)
	r.RegisterWebSocketRoutes(hub)
	r.RegisterMetricsRoutes(prometheus.DefaultGatherer)

	logger.Info("Application wired",
		zap.String("buffer_backend", cfg.BufferBackend),
		zap.Int("max_cache_size", cfg.MaxCacheSize),
		zap.Int("compaction_window", cfg.CompactionWindow),
	)

	return &Application{
		Router:   r,
		DB:       dbConn,
		Redis:    redisProvider,
		Writer:   writer,
		EventBus: eventBus,
		Hub:      hub,
		Volatile: cfg.BufferBackend == config.BufferBackendMemory,
	}, nil
}

// Close releases connections opened by Bootstrap.
func (a *Application) Close() error {
	var firstErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close redis: %w", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close postgres: %w", err)
		}
	}
	return firstErr
}
