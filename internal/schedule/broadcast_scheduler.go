package schedule

// 广播调度器：每次 tick 为每个到期的 RUNNING 广播最多领取一条线索并交给 Dispatcher。
// 正确性只依赖存储层的原子领取，多个进程、cron 接口和定时器可以同时调用 Tick。

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"WaBroadcast/internal/model"
	"WaBroadcast/internal/repository"
	"WaBroadcast/pkg/clock"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/pkg/metrics"
	"WaBroadcast/pkg/snowflake"
)

// TickReport 一次 tick 的统计
type TickReport struct {
	StartedAt  time.Time `json:"startedAt"`
	Errors     []string  `json:"errors,omitempty"`
	Broadcasts int       `json:"broadcasts"`
	Due        int       `json:"due"`
	Claimed    int       `json:"claimed"`
	Reclaimed  int       `json:"reclaimed"`
	Completed  int       `json:"completed"`
	Skipped    int       `json:"skipped"`
	DurationMs int64     `json:"durationMs"`
}

// BroadcastScheduler 节奏调度器
type BroadcastScheduler struct {
	store        repository.Store
	dispatcher   Dispatcher
	clock        clock.Clock
	logger       *zap.Logger
	newToken     func() (string, error)
	abandonAfter time.Duration
}

func NewBroadcastScheduler(store repository.Store, dispatcher Dispatcher, clk clock.Clock, abandonAfter time.Duration) *BroadcastScheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &BroadcastScheduler{
		store:        store,
		dispatcher:   dispatcher,
		clock:        clk,
		logger:       logger.Logger,
		newToken:     snowflake.NextString,
		abandonAfter: abandonAfter,
	}
}

type broadcastResult struct {
	err       error
	claimed   bool
	reclaimed bool
	completed bool
	skipped   bool
}

// Tick 执行一轮调度。读取广播列表失败时直接返回；
// 单个广播的存储错误在所有广播处理完后合并返回，下一轮会重试。
func (s *BroadcastScheduler) Tick(ctx context.Context) (*TickReport, error) {
	now := s.clock.Now()
	started := time.Now()
	report := &TickReport{StartedAt: now}

	broadcasts, err := s.store.ListRunningBroadcasts(ctx)
	if err != nil {
		metrics.RecordTick(ctx, time.Since(started).Seconds(), true)
		return report, fmt.Errorf("list running broadcasts: %w", err)
	}
	report.Broadcasts = len(broadcasts)

	results := make([]broadcastResult, len(broadcasts))
	var wg sync.WaitGroup
	for i, b := range broadcasts {
		if !b.IsDue(now) {
			results[i].skipped = true
			continue
		}
		report.Due++

		wg.Add(1)
		go func(i int, b *model.Broadcast) {
			defer wg.Done()
			results[i] = s.processBroadcast(ctx, b, now)
		}(i, b)
	}
	wg.Wait()

	var errs []error
	for _, r := range results {
		switch {
		case r.err != nil:
			errs = append(errs, r.err)
			report.Errors = append(report.Errors, r.err.Error())
		case r.skipped:
			report.Skipped++
		}
		if r.claimed {
			report.Claimed++
		}
		if r.reclaimed {
			report.Reclaimed++
		}
		if r.completed {
			report.Completed++
		}
	}
	report.DurationMs = time.Since(started).Milliseconds()

	tickErr := errors.Join(errs...)
	metrics.RecordTick(ctx, time.Since(started).Seconds(), tickErr != nil)

	if report.Claimed > 0 || report.Completed > 0 || tickErr != nil {
		s.logger.Info("Broadcast tick finished",
			zap.Int("broadcasts", report.Broadcasts),
			zap.Int("due", report.Due),
			zap.Int("claimed", report.Claimed),
			zap.Int("reclaimed", report.Reclaimed),
			zap.Int("completed", report.Completed),
			zap.Int("skipped", report.Skipped),
			zap.Int("errors", len(errs)),
			zap.Int64("duration_ms", report.DurationMs),
		)
	}
	return report, tickErr
}

func (s *BroadcastScheduler) processBroadcast(ctx context.Context, b *model.Broadcast, now time.Time) broadcastResult {
	log := s.logger.With(
		zap.Int64("broadcast_id", b.ID),
		zap.Int64("campaign_id", b.CampaignID),
	)

	token, err := s.newToken()
	if err != nil {
		return broadcastResult{err: fmt.Errorf("broadcast %d: generate claim token: %w", b.ID, err)}
	}

	lead, err := s.store.ClaimNextLead(ctx, repository.ClaimRequest{
		Now:            now,
		Token:          token,
		BroadcastID:    b.ID,
		CampaignID:     b.CampaignID,
		AbandonAfter:   s.abandonAfter,
		LastDispatchAt: b.LastDispatchAt,
	})
	if errors.Is(err, repository.ErrNotDue) {
		return broadcastResult{skipped: true}
	}
	if err != nil {
		log.Error("Failed to claim lead", zap.Error(err))
		return broadcastResult{err: fmt.Errorf("broadcast %d: claim lead: %w", b.ID, err)}
	}

	if lead == nil {
		completed, err := s.completeIfExhausted(ctx, b, now, log)
		if err != nil {
			return broadcastResult{err: err}
		}
		return broadcastResult{completed: completed, skipped: !completed}
	}

	metrics.RecordClaim(ctx, lead.Reclaimed)
	if lead.Reclaimed {
		log.Warn("Re-claimed abandoned lead",
			zap.Int64("lead_id", lead.ID),
			zap.Int("attempts", lead.AttemptsMade))
	}

	job := model.DispatchJob{
		ClaimToken:  token,
		ClaimedAt:   now.UTC().Format(time.RFC3339Nano),
		BroadcastID: b.ID,
		CampaignID:  b.CampaignID,
		LeadID:      lead.ID,
	}
	result := broadcastResult{claimed: true, reclaimed: lead.Reclaimed}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		// 领取保持 SENDING，超时后重新领取
		log.Error("Failed to hand off claimed lead",
			zap.Int64("lead_id", lead.ID),
			zap.Error(err))
		result.err = fmt.Errorf("broadcast %d: dispatch lead %d: %w", b.ID, lead.ID, err)
		return result
	}

	// 同步投递时结果已落库，最后一条线索发完的这一轮就能完成；
	// 队列模式下线索仍是 SENDING，这里不会完成
	completed, err := s.completeIfExhausted(ctx, b, now, log)
	if err != nil {
		result.err = err
		return result
	}
	result.completed = completed
	return result
}

func (s *BroadcastScheduler) completeIfExhausted(ctx context.Context, b *model.Broadcast, now time.Time, log *zap.Logger) (bool, error) {
	completed, err := s.store.CompleteIfExhausted(ctx, b.ID, now)
	if err != nil {
		log.Error("Failed to complete broadcast", zap.Error(err))
		return false, fmt.Errorf("broadcast %d: complete: %w", b.ID, err)
	}
	if completed {
		metrics.RecordCompleted(ctx)
		log.Info("Broadcast completed, no leads left")
	}
	return completed, nil
}
