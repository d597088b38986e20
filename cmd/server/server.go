package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	hertzapp "github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"go.uber.org/zap"

	"WaBroadcast/config"
	"WaBroadcast/internal/app"
	"WaBroadcast/internal/handler"
	"WaBroadcast/internal/middleware"
	"WaBroadcast/internal/repository"
	"WaBroadcast/internal/router"
	"WaBroadcast/internal/schedule"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/pkg/sender"
	"WaBroadcast/pkg/token"
	"WaBroadcast/storage"
	"WaBroadcast/storage/database"
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

	// 初始化存储层，记得关闭外部连接
	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	a, err := app.New(app.Options{
		Store:         repository.NewGormStore(database.DB()),
		Sender:        sender.GetClient(),
		TemplateCache: true,
	})
	if err != nil {
		logger.Logger.Fatal("Failed to assemble application", zap.Error(err))
	}

	// token 在中间件前初始化，middleware 依赖 token
	if err := token.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize token package", zap.Error(err))
	}
	if err := middleware.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize middlewares", zap.Error(err))
	}
	handler.Init(a.Broadcasts, a.Scheduler)

	if config.Cfg.SchedulerEmbedded {
		runner := schedule.NewRunner(a.Scheduler, config.Cfg.TickInterval(), config.Cfg.TickTimeout())
		if err := runner.Start(ctx); err != nil {
			logger.Logger.Fatal("Failed to start embedded tick runner", zap.Error(err))
		}
		defer runner.Stop()
	}

	logger.Logger.Info("Server starting",
		zap.String("service", config.Cfg.ServiceName),
		zap.String("port", config.Cfg.ServerPort),
		zap.String("environment", config.Cfg.Environment),
		zap.String("dispatch_mode", config.Cfg.DispatchMode),
		zap.Bool("scheduler_embedded", config.Cfg.SchedulerEmbedded),
	)

	addr := net.JoinHostPort(config.Cfg.ServerHost, config.Cfg.ServerPort)
	opts := []hertzconfig.Option{server.WithHostPorts(addr)}
	var tracing []hertzapp.HandlerFunc
	if config.Cfg.OTelEnabled {
		tracerOpt, tracingMiddleware := middleware.NewServerTracerConfig()
		opts = append(opts, tracerOpt)
		tracing = append(tracing, tracingMiddleware)
	}
	h := server.Default(opts...)
	h.Use(tracing...)

	router.Register(h)

	// 优雅关闭：在单独的 goroutine 中监听关闭信号并调用 Shutdown
	go func() {
		<-ctx.Done()
		logger.Logger.Info("Initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := h.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
	}()

	logger.Logger.Info("HTTP server listening", zap.String("addr", addr))

	h.Spin()

	logger.Logger.Info("Server shutting down gracefully")
}
