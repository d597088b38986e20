package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"WaBroadcast/config"
	"WaBroadcast/pkg/errors"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/pkg/response"
	"WaBroadcast/storage/redis"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 限流键前缀
	KeyPrefix string
	// 时间窗口（秒）
	Window int
	// 时间窗口内最大请求数
	MaxRequests int
	// 超过限制后禁止访问的时间（秒），0 表示不封禁
	BlockDuration int
	// 优先按坐席限流，未认证时按 IP
	ByAgentID bool
}

// DefaultRateLimitConfig 控制接口的通用限流
var DefaultRateLimitConfig = RateLimitConfig{
	KeyPrefix:   "rate:limit",
	Window:      60,
	MaxRequests: 120,
	ByAgentID:   true,
}

// SettingsRateLimitConfig 广播设置修改限流
var SettingsRateLimitConfig = RateLimitConfig{
	KeyPrefix:     "rate:settings",
	Window:        60,
	MaxRequests:   20,
	BlockDuration: 300,
	ByAgentID:     true,
}

// CronRateLimitConfig cron 接口按 IP 限流
var CronRateLimitConfig = RateLimitConfig{
	KeyPrefix:   "rate:cron",
	Window:      60,
	MaxRequests: 60,
}

// RateLimiter 基于 redis zset 的滑动窗口限流器
type RateLimiter struct {
	client func() redislib.Cmdable
	config RateLimitConfig
}

func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config: config,
		client: func() redislib.Cmdable { return redis.Client() },
	}
}

// getKey 生成限流键
func (rl *RateLimiter) getKey(ctx context.Context, c *app.RequestContext) string {
	identifier := ""
	if rl.config.ByAgentID {
		if agentID, exists := GetAgentID(ctx, c); exists {
			identifier = "agent:" + agentID
		}
	}
	if identifier == "" {
		identifier = "ip:" + c.ClientIP()
	}
	return redis.Key(rl.config.KeyPrefix, identifier)
}

// Allow 检查是否允许请求，返回窗口内的请求数
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	now := time.Now()
	windowStart := now.Add(-time.Duration(rl.config.Window) * time.Second)

	pipe := rl.client().Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, key, redislib.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	zcardCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, time.Duration(rl.config.Window+10)*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("failed to execute pipeline: %w", err)
	}

	count := int(zcardCmd.Val())
	return count <= rl.config.MaxRequests, count, nil
}

func (rl *RateLimiter) blockKey(key string) string {
	return key + ":block"
}

func (rl *RateLimiter) Block(ctx context.Context, key string) error {
	if rl.config.BlockDuration <= 0 {
		return nil
	}
	return rl.client().Set(ctx, rl.blockKey(key), "1", time.Duration(rl.config.BlockDuration)*time.Second).Err()
}

func (rl *RateLimiter) IsBlocked(ctx context.Context, key string) (bool, error) {
	if rl.config.BlockDuration <= 0 {
		return false, nil
	}
	result, err := rl.client().Exists(ctx, rl.blockKey(key)).Result()
	return result > 0, err
}

// RateLimitMiddleware 创建限流中间件。redis 不可用时放行。
func RateLimitMiddleware(cfg RateLimitConfig) app.HandlerFunc {
	limiter := NewRateLimiter(cfg)

	return func(ctx context.Context, c *app.RequestContext) {
		if !config.Cfg.RateLimitEnabled {
			c.Next(ctx)
			return
		}

		key := limiter.getKey(ctx, c)
		blocked, err := limiter.IsBlocked(ctx, key)
		if err != nil {
			logger.Logger.Warn("Failed to check block status, allowing request", zap.Error(err))
			c.Next(ctx)
			return
		}
		if blocked {
			response.Error(ctx, c, errors.TooManyRequests)
			c.Abort()
			return
		}

		allowed, count, err := limiter.Allow(ctx, key)
		if err != nil {
			logger.Logger.Warn("Failed to check rate limit, allowing request", zap.Error(err))
			c.Next(ctx)
			return
		}

		remaining := cfg.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Response.Header.Set("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Response.Header.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(cfg.Window)*time.Second).Unix(), 10))

		if !allowed {
			if err := limiter.Block(ctx, key); err != nil {
				logger.Logger.Error("Failed to block client", zap.Error(err))
			}
			logger.Logger.Warn("Rate limit exceeded", zap.String("key", key), zap.Int("count", count))
			response.Error(ctx, c, errors.TooManyRequests)
			c.Abort()
			return
		}

		c.Next(ctx)
	}
}

func GeneralRateLimitMiddleware() app.HandlerFunc {
	return RateLimitMiddleware(DefaultRateLimitConfig)
}

// SettingsRateLimitMiddleware 广播设置修改限流
func SettingsRateLimitMiddleware() app.HandlerFunc {
	return RateLimitMiddleware(SettingsRateLimitConfig)
}

func CronRateLimitMiddleware() app.HandlerFunc {
	return RateLimitMiddleware(CronRateLimitConfig)
}
