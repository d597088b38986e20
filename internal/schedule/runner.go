package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"WaBroadcast/pkg/logger"
)

// Ticker 由 BroadcastScheduler 实现
type Ticker interface {
	Tick(ctx context.Context) (*TickReport, error)
}

// Runner 用 cron 周期性触发 Tick。同一进程内上一轮未结束时跳过本轮。
type Runner struct {
	ticker   Ticker
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration
	timeout  time.Duration
	mu       sync.Mutex
	running  bool
}

func NewRunner(ticker Ticker, interval, timeout time.Duration) *Runner {
	return &Runner{ticker: ticker, interval: interval, timeout: timeout}
}

// Start 注册定时任务并启动，重复调用无效
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	if r.interval <= 0 {
		return fmt.Errorf("invalid tick interval %s", r.interval)
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Logger.Named("cron")))
	r.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	r.ctx, r.cancel = context.WithCancel(ctx)

	spec := "@every " + r.interval.String()
	if _, err := r.cron.AddFunc(spec, r.runOnce); err != nil {
		r.cancel()
		return fmt.Errorf("register tick job: %w", err)
	}
	r.cron.Start()
	r.running = true

	logger.Logger.Info("Broadcast tick runner started",
		zap.Duration("interval", r.interval),
		zap.Duration("timeout", r.timeout),
	)
	return nil
}

// Stop 停止调度并等待正在执行的 tick 结束
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	c, cancel := r.cron, r.cancel
	r.mu.Unlock()

	<-c.Stop().Done()
	cancel()
	logger.Logger.Info("Broadcast tick runner stopped")
}

func (r *Runner) runOnce() {
	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if _, err := r.ticker.Tick(ctx); err != nil {
		logger.Logger.Error("Broadcast tick failed", zap.Error(err))
	}
}
