package middleware

import (
	"context"
	"crypto/subtle"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"

	"WaBroadcast/config"
	"WaBroadcast/pkg/errors"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/pkg/response"
)

const CronSecretHeader = "X-Cron-Secret"

// CronSecretMiddleware 校验外部 cron 调用携带的共享密钥。未配置密钥时拒绝所有调用。
func CronSecretMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		expected := config.Cfg.CronSecret
		got := string(c.GetHeader(CronSecretHeader))

		if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			logger.Logger.Warn("Rejected cron request",
				zap.String("client_ip", c.ClientIP()),
				zap.Bool("secret_configured", expected != ""),
			)
			response.Error(ctx, c, errors.Unauthorized)
			c.Abort()
			return
		}
		c.Next(ctx)
	}
}
