package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"WaBroadcast/config"
	"WaBroadcast/internal/app"
	"WaBroadcast/internal/queue"
	"WaBroadcast/internal/repository"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/pkg/sender"
	"WaBroadcast/storage"
	"WaBroadcast/storage/database"
	"WaBroadcast/storage/mq"
)

func main() {
	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Logger.Info("Received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	shutdownRuntime, err := app.InitRuntime(ctx)
	defer shutdownRuntime(context.Background())
	if err != nil {
		logger.Logger.Fatal("Failed to initialize runtime", zap.Error(err))
	}

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	// worker 总是需要 RabbitMQ，与 DISPATCH_MODE 无关
	if err := mq.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize RabbitMQ", zap.Error(err))
	}

	a, err := app.New(app.Options{
		Store:         repository.NewGormStore(database.DB()),
		Sender:        sender.GetClient(),
		TemplateCache: true,
	})
	if err != nil {
		logger.Logger.Fatal("Failed to assemble worker", zap.Error(err))
	}

	logger.Logger.Info("Worker service starting",
		zap.String("service", config.Cfg.ServiceName+"-worker"),
		zap.String("environment", config.Cfg.Environment),
		zap.String("queue", config.Cfg.DispatchQueue),
	)

	if err := queue.NewDispatchConsumer(a.Executor).Start(ctx); err != nil {
		logger.Logger.Error("Dispatch consumer stopped", zap.Error(err))
	}

	logger.Logger.Info("Worker service shutting down gracefully")
}
