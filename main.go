package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatbuffer/internal/app"
	"chatbuffer/internal/config"
	"chatbuffer/internal/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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
		zap.String("server_port", cfg.ServerPort),
		zap.String("db_host", cfg.DBHost),
		zap.String("redis_url", cfg.RedisURL),
		zap.String("env", cfg.Env),
		zap.String("buffer_backend", cfg.BufferBackend),
	)

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// background loops outlive the signal so the writer can drain after the
	// HTTP server has stopped accepting requests
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	application, err := app.Bootstrap(workerCtx, &cfg, logger)
	if err != nil {
		logger.Fatal("Failed to bootstrap application", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(workerCtx)
	g.Go(func() error { return application.Writer.Run(gctx) })
	g.Go(func() error { return application.EventBus.Run(gctx) })
	g.Go(func() error { return application.Hub.Run(gctx) })

	addr := ":" + cfg.ServerPort
	srv := &http.Server{
		Addr:              addr,
		Handler:           application.Router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", zap.String("addr", "localhost"+addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("Shutting down server...")
	case err := <-serverErr:
		logger.Error("Server stopped with error", zap.Error(err))
	case <-gctx.Done():
		logger.Error("Background worker stopped unexpectedly")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// websocket connections are hijacked and outlive srv.Shutdown
	application.Hub.Quiesce()

	if application.Volatile {
		moved, err := application.Writer.Drain(ctx)
		if err != nil {
			logger.Error("Failed to flush in-memory buffer", zap.Int("moved", moved), zap.Error(err))
		} else {
			logger.Info("In-memory buffer flushed", zap.Int("moved", moved))
		}
	}

	cancelWorkers()
	if err := g.Wait(); err != nil {
		logger.Error("Background worker failed", zap.Error(err))
	}
	if err := application.Close(); err != nil {
		logger.Warn("Failed to close connections", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}
