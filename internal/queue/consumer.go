package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"WaBroadcast/config"
	"WaBroadcast/internal/cache"
	"WaBroadcast/internal/model"
	"WaBroadcast/pkg/errors"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/storage/mq"
)

// JobExecutor 由 service.Executor 实现
type JobExecutor interface {
	Execute(ctx context.Context, job model.DispatchJob) error
}

// Deduper 消息幂等标记，默认使用 redis SETNX
type Deduper interface {
	TryMark(ctx context.Context, messageID string) (bool, error)
	Unmark(ctx context.Context, messageID string) error
	MarkDone(ctx context.Context, messageID string) error
}

type redisDeduper struct{}

func (redisDeduper) TryMark(ctx context.Context, messageID string) (bool, error) {
	return cache.TryMarkJobProcessing(ctx, messageID, 10*time.Minute)
}

func (redisDeduper) Unmark(ctx context.Context, messageID string) error {
	return cache.UnmarkJobProcessing(ctx, messageID)
}

func (redisDeduper) MarkDone(ctx context.Context, messageID string) error {
	return cache.MarkJobProcessed(ctx, messageID)
}

// DispatchConsumer 消费分发队列并交给执行器
type DispatchConsumer struct {
	executor JobExecutor
	deduper  Deduper
}

func NewDispatchConsumer(executor JobExecutor) *DispatchConsumer {
	return &DispatchConsumer{executor: executor, deduper: redisDeduper{}}
}

// Handle 处理一条消息。重复投递返回 SkipMessageError；
// 执行失败时撤销标记并返回错误，消息重新入队。
func (c *DispatchConsumer) Handle(ctx context.Context, body []byte) error {
	var job model.DispatchJob
	if err := json.Unmarshal(body, &job); err != nil {
		return errors.NewSkipMessageError(fmt.Sprintf("malformed dispatch job: %v", err))
	}

	// 幂等标记失败时继续处理，执行器自身会丢弃过期领取
	marked, err := c.deduper.TryMark(ctx, job.MessageID)
	if err != nil {
		logger.Logger.Warn("Failed to check message processed status",
			zap.String("message_id", job.MessageID),
			zap.Error(err),
		)
	} else if !marked {
		return errors.NewSkipMessageError(fmt.Sprintf("message %s already processed", job.MessageID))
	}

	if err := c.executor.Execute(ctx, job); err != nil {
		if unmarkErr := c.deduper.Unmark(ctx, job.MessageID); unmarkErr != nil {
			logger.Logger.Warn("Failed to unmark message",
				zap.String("message_id", job.MessageID),
				zap.Error(unmarkErr),
			)
		}
		return fmt.Errorf("execute dispatch job %s: %w", job.MessageID, err)
	}

	if err := c.deduper.MarkDone(ctx, job.MessageID); err != nil {
		logger.Logger.Warn("Failed to mark message as processed",
			zap.String("message_id", job.MessageID),
			zap.Error(err),
		)
	}
	return nil
}

// Start 阻塞消费直到 ctx 取消
func (c *DispatchConsumer) Start(ctx context.Context) error {
	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         config.Cfg.DispatchQueue,
		ConsumerTag:   "broadcast_dispatch_consumer",
		PrefetchCount: config.Cfg.WorkerPrefetch,
		Handler:       c.Handle,
	})
}
