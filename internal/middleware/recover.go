package middleware

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"WaBroadcast/config"
	"WaBroadcast/pkg/errors"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/pkg/response"
)

const RequestIDKey = "request_id"

// RecoverConfig recover 中间件配置
type RecoverConfig struct {
	// 严重错误回调函数（可用于发送告警）
	OnSevereError func(ctx context.Context, c *app.RequestContext, err interface{}, stack []byte)
	// 是否启用堆栈追踪
	EnableStackTrace bool
	// 非生产环境在响应里返回 panic 信息
	ExposeDetails bool
}

// NewRecoverConfig 创建 recover 配置
func NewRecoverConfig() RecoverConfig {
	return RecoverConfig{
		EnableStackTrace: true,
		ExposeDetails:    !config.Cfg.IsProduction(),
	}
}

// RequestIDMiddleware 透传或生成 X-Request-ID
func RequestIDMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		requestID := string(c.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Response.Header.Set("X-Request-ID", requestID)
		c.Next(ctx)
	}
}

// RecoverMiddleware 创建 recover 中间件
func RecoverMiddleware() app.HandlerFunc {
	return RecoverMiddlewareWithConfig(NewRecoverConfig())
}

// RecoverMiddlewareWithConfig 带配置的 recover 中间件
func RecoverMiddlewareWithConfig(cfg RecoverConfig) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				handlePanic(ctx, c, err, cfg)
			}
		}()
		c.Next(ctx)
	}
}

func handlePanic(ctx context.Context, c *app.RequestContext, err interface{}, cfg RecoverConfig) {
	var stack []byte
	if cfg.EnableStackTrace {
		stack = debug.Stack()
	}

	fields := []zap.Field{
		zap.String("panic", fmt.Sprintf("%v", err)),
		zap.String("path", string(c.Path())),
		zap.String("method", string(c.Method())),
		zap.String("client_ip", c.ClientIP()),
		zap.String("request_id", c.GetString(RequestIDKey)),
	}
	if agentID, ok := GetAgentID(ctx, c); ok {
		fields = append(fields, zap.String("agent_id", agentID))
	}
	if len(stack) > 0 {
		fields = append(fields, zap.String("stack", trimStack(stack)))
	}
	logger.Logger.Error("[PANIC RECOVERED]", fields...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(fmt.Errorf("panic: %v", err))
		span.SetStatus(codes.Error, "panic recovered")
	}

	if cfg.OnSevereError != nil {
		cfg.OnSevereError(ctx, c, err, stack)
	}

	if cfg.ExposeDetails {
		response.ErrorWithDetails(ctx, c, errors.InternalError, map[string]interface{}{
			"panic": fmt.Sprintf("%v", err),
		})
	} else {
		response.Error(ctx, c, errors.InternalError)
	}
	c.Abort()
}

// trimStack 去掉 runtime 和 recover 自身的栈帧
func trimStack(stack []byte) string {
	lines := strings.Split(string(stack), "\n")
	filtered := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if strings.HasPrefix(line, "runtime/") || strings.HasPrefix(line, "panic(") ||
			strings.Contains(line, "middleware.handlePanic") {
			i++ // 跳过对应的文件行
			continue
		}
		filtered = append(filtered, line)
	}
	return strings.Join(filtered, "\n")
}
