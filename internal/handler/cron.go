package handler

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"

	"WaBroadcast/internal/schedule"
	"WaBroadcast/pkg/logger"
	"WaBroadcast/pkg/response"
)

// RunOnceResponse cron 接口返回体，不使用 data 包装
type RunOnceResponse struct {
	Report *schedule.TickReport `json:"report"`
	OK     bool                 `json:"ok"`
}

// RunOnce 同步执行一轮调度，可与内置定时器并发调用
// POST /cron/run-once
func RunOnce(ctx context.Context, c *app.RequestContext) {
	report, err := ticker.Tick(ctx)
	if err != nil {
		logger.Logger.Error("Cron run-once tick failed", zap.Error(err))
		// 部分广播失败时仍返回报告，下一轮会重试
		if report != nil && len(report.Errors) > 0 {
			c.JSON(http.StatusOK, RunOnceResponse{OK: false, Report: report})
			return
		}
		response.Error(ctx, c, err)
		return
	}
	c.JSON(http.StatusOK, RunOnceResponse{OK: true, Report: report})
}

// Health GET /health
func Health(ctx context.Context, c *app.RequestContext) {
	c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
