package handler

import (
	"context"
	"strconv"

	"github.com/go-playground/validator/v10"

	"WaBroadcast/internal/model"
	"WaBroadcast/internal/model/dto"
	"WaBroadcast/internal/schedule"
	pkgerrors "WaBroadcast/pkg/errors"
)

// BroadcastController 由 service.BroadcastService 实现
type BroadcastController interface {
	Start(ctx context.Context, agentID string, campaignID int64) (*dto.BroadcastSnapshot, error)
	Pause(ctx context.Context, agentID string, campaignID int64) (*dto.BroadcastSnapshot, error)
	Resume(ctx context.Context, agentID string, campaignID int64) (*dto.BroadcastSnapshot, error)
	Cancel(ctx context.Context, agentID string, campaignID int64) (*dto.BroadcastSnapshot, error)
	UpdateSettings(ctx context.Context, agentID string, campaignID int64, patch model.SettingsPatch) (*dto.BroadcastSnapshot, error)
	EnsureSettingsEditable(ctx context.Context, agentID string, campaignID int64) error
	GetStatus(ctx context.Context, agentID string, campaignID int64) (*dto.StatusResponse, error)
}

var (
	broadcasts BroadcastController
	ticker     schedule.Ticker
	validate   = validator.New()
)

// Init 注入处理器依赖，在注册路由前调用
func Init(controller BroadcastController, t schedule.Ticker) {
	broadcasts = controller
	ticker = t
}

func parseCampaignID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.Wrap(pkgerrors.InvalidRequest, "invalid campaign id")
	}
	return id, nil
}
