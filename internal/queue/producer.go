package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"WaBroadcast/internal/model"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/pkg/snowflake"
	"WaBroadcast/storage/mq"
)

// Producer 把领取到的线索投递到分发队列
type Producer struct {
	queue string
}

func NewProducer(queue string) *Producer {
	return &Producer{queue: queue}
}

// PublishDispatchJob 发布分发任务，MessageID 为空时生成
func (p *Producer) PublishDispatchJob(ctx context.Context, job model.DispatchJob) error {
	if job.MessageID == "" {
		id, err := snowflake.NextID()
		if err != nil {
			logger.Logger.Error("Failed to generate message ID",
				zap.Int64("lead_id", job.LeadID),
				zap.Error(err),
			)
			return fmt.Errorf("failed to generate message ID: %w", err)
		}
		job.MessageID = fmt.Sprintf("dispatch_%d", id)
	}

	if err := mq.PublishMessage(ctx, p.queue, job.MessageID, job); err != nil {
		logger.Logger.Error("Failed to publish dispatch job",
			zap.String("message_id", job.MessageID),
			zap.Int64("broadcast_id", job.BroadcastID),
			zap.Int64("lead_id", job.LeadID),
			zap.Error(err),
		)
		return err
	}

	logger.Logger.Debug("Published dispatch job",
		zap.String("message_id", job.MessageID),
		zap.Int64("broadcast_id", job.BroadcastID),
		zap.Int64("lead_id", job.LeadID),
	)
	return nil
}
