package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"WaBroadcast/internal/handler"
	"WaBroadcast/internal/middleware"
)

func Register(h *server.Hertz) {
	h.Use(middleware.RequestIDMiddleware())
	h.Use(middleware.RecoverMiddleware())
	h.Use(middleware.CORSMiddleware())
	h.Use(middleware.MetricsMiddleware())

	h.GET("/health", handler.Health)

	// 外部 cron 触发，与内置定时器并发安全
	cron := h.Group("/cron", middleware.CronRateLimitMiddleware(), middleware.CronSecretMiddleware())
	{
		cron.POST("/run-once", handler.RunOnce)
	}

	h.POST("/auth/refresh", middleware.RefreshHandler())

	campaigns := h.Group("/campaigns/:id")
	campaigns.Use(middleware.AuthMiddleware(), middleware.GeneralRateLimitMiddleware())
	{
		campaigns.POST("/start", handler.StartBroadcast)
		campaigns.POST("/pause", handler.PauseBroadcast)
		campaigns.POST("/resume", handler.ResumeBroadcast)
		campaigns.POST("/cancel", handler.CancelBroadcast)
		campaigns.PATCH("/settings", middleware.SettingsRateLimitMiddleware(), handler.UpdateSettings)
		campaigns.GET("/status", handler.GetStatus)
	}
}
