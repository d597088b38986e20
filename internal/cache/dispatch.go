package cache

import (
	"context"
	"fmt"
	"time"

	"WaBroadcast/storage/redis"
)

const (
	dispatchJobPrefix = "dispatch:job"
	// 处理标记保留时间，覆盖 MQ 重投窗口
	processedTTL = 24 * time.Hour
)

// TryMarkJobProcessing 使用 SETNX 标记任务开始处理。
// 返回 true 表示首次处理，false 表示重复投递或正在处理。
func TryMarkJobProcessing(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = processedTTL
	}

	ok, err := redis.Client().SetNX(ctx, redis.Key(dispatchJobPrefix, messageID), "processing", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark job as processing: %w", err)
	}
	return ok, nil
}

// UnmarkJobProcessing 处理失败时删除标记，允许重投后重试
func UnmarkJobProcessing(ctx context.Context, messageID string) error {
	return redis.Client().Del(ctx, redis.Key(dispatchJobPrefix, messageID)).Err()
}

// MarkJobProcessed 处理成功后更新标记并延长 TTL
func MarkJobProcessed(ctx context.Context, messageID string) error {
	return redis.Client().Set(ctx, redis.Key(dispatchJobPrefix, messageID), "completed", processedTTL).Err()
}
