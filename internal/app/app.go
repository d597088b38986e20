package app

// 各个进程（server、scheduler、worker、wactl）共用的组件装配

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"WaBroadcast/config"
	"WaBroadcast/internal/cache"
	"WaBroadcast/internal/queue"
	"WaBroadcast/internal/repository"
	"WaBroadcast/internal/schedule"
	"WaBroadcast/internal/service"
	"WaBroadcast/pkg/clock"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/pkg/metrics"
	"WaBroadcast/pkg/otel"
	"WaBroadcast/pkg/sender"
	"WaBroadcast/pkg/snowflake"
)

// App 装配好的调度组件
type App struct {
	Store      repository.Store
	Executor   *service.Executor
	Scheduler  *schedule.BroadcastScheduler
	Broadcasts *service.BroadcastService
	Seeds      *service.SeedService
}

// Options 装配选项
type Options struct {
	Store  repository.Store
	Sender sender.Client
	Clock  clock.Clock
	// TemplateCache 为 true 时模板经 redis 缓存读取，需要 redis 已初始化
	TemplateCache bool
	// Dispatcher 为空时按 DISPATCH_MODE 选择
	Dispatcher schedule.Dispatcher
}

// New 按配置装配执行器、调度器和控制服务
func New(opts Options) (*App, error) {
	if opts.Store == nil || opts.Sender == nil {
		return nil, fmt.Errorf("store and sender are required")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	var source cache.TemplateSource = opts.Store
	if opts.TemplateCache {
		source = cache.NewTemplateCache(opts.Store, time.Duration(config.Cfg.TemplateCacheTTLSeconds)*time.Second)
	}

	executor := service.NewExecutor(opts.Store, service.NewPlaceholderRenderer(source), opts.Sender, clk)

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		switch config.Cfg.DispatchMode {
		case "queue":
			dispatcher = schedule.NewQueueDispatcher(queue.NewProducer(config.Cfg.DispatchQueue))
		default:
			dispatcher = schedule.NewInlineDispatcher(executor)
		}
	}

	broadcasts := service.NewBroadcastService(opts.Store, clk)
	return &App{
		Store:      opts.Store,
		Executor:   executor,
		Scheduler:  schedule.NewBroadcastScheduler(opts.Store, dispatcher, clk, config.Cfg.ClaimAbandonAfter()),
		Broadcasts: broadcasts,
		Seeds:      service.NewSeedService(opts.Store, broadcasts),
	}, nil
}

// InitRuntime 初始化日志之外的进程级依赖：otel、指标、snowflake、发送客户端。
// 返回的函数在退出时调用。
func InitRuntime(ctx context.Context) (func(context.Context), error) {
	shutdown := func(context.Context) {}

	if config.Cfg.OTelEnabled {
		otelShutdown, err := otel.Init(ctx, otel.Config{
			ServiceName:  config.Cfg.ServiceName,
			Environment:  config.Cfg.Environment,
			OTLPEndpoint: config.Cfg.OTelEndpoint,
		})
		if err != nil {
			logger.Logger.Warn("Failed to initialize OpenTelemetry, continuing without it", zap.Error(err))
		} else {
			shutdown = func(ctx context.Context) {
				if err := otelShutdown(ctx); err != nil {
					logger.Logger.Warn("Failed to shutdown OpenTelemetry", zap.Error(err))
				}
			}
		}
	}

	if err := metrics.InitMetrics(); err != nil {
		logger.Logger.Warn("Failed to initialize metrics", zap.Error(err))
	}

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		return shutdown, fmt.Errorf("init snowflake: %w", err)
	}

	if err := sender.Init(); err != nil {
		return shutdown, fmt.Errorf("init sender: %w", err)
	}
	return shutdown, nil
}
