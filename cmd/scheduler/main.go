package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"WaBroadcast/config"
	"WaBroadcast/internal/app"
	"WaBroadcast/internal/repository"
	"WaBroadcast/internal/schedule"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/pkg/sender"
	"WaBroadcast/storage"
	"WaBroadcast/storage/database"
)

func main() {
	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Logger.Info("Scheduler received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	shutdownRuntime, err := app.InitRuntime(ctx)
	defer shutdownRuntime(context.Background())
	if err != nil {
		logger.Logger.Fatal("Failed to initialize runtime for scheduler", zap.Error(err))
	}

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage for scheduler", zap.Error(err))
	}
	defer storage.Close()

	a, err := app.New(app.Options{
		Store:         repository.NewGormStore(database.DB()),
		Sender:        sender.GetClient(),
		TemplateCache: true,
	})
	if err != nil {
		logger.Logger.Fatal("Failed to assemble scheduler", zap.Error(err))
	}

	logger.Logger.Info("Scheduler service starting",
		zap.String("service", config.Cfg.ServiceName+"-scheduler"),
		zap.String("environment", config.Cfg.Environment),
		zap.String("dispatch_mode", config.Cfg.DispatchMode),
	)

	// 多个 scheduler 进程可以同时运行，领取由存储层串行化
	runner := schedule.NewRunner(a.Scheduler, config.Cfg.TickInterval(), config.Cfg.TickTimeout())
	if err := runner.Start(ctx); err != nil {
		logger.Logger.Fatal("Failed to start tick runner", zap.Error(err))
	}

	<-ctx.Done()
	runner.Stop()

	logger.Logger.Info("Scheduler service shutting down gracefully")
}
